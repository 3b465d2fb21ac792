package devicecheck

import (
	"context"
	"fmt"
	"os"

	"github.com/viant/kgrader/service/rendezvous"
	"golang.org/x/sys/unix"
)

const (
	exitOpen = 10
	exitSync = 11
)

func registerRoutines() {
	rendezvous.Register(routineHold, hold)
	rendezvous.Register(routineLeak, leak)
}

// hold opens the device, signals the parent and keeps the descriptor until
// released.
func hold(_ context.Context, peer *rendezvous.Peer, arg []byte) int {
	fd, err := unix.Open(string(arg), unix.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", arg, err)
		return exitOpen
	}
	defer unix.Close(fd)
	if err := peer.Release(); err != nil {
		return exitSync
	}
	if err := peer.Sync(); err != nil {
		return exitSync
	}
	return 0
}

// leak opens the device and exits without closing it.
func leak(_ context.Context, _ *rendezvous.Peer, arg []byte) int {
	if _, err := unix.Open(string(arg), unix.O_RDWR, 0); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", arg, err)
		return exitOpen
	}
	return 0
}

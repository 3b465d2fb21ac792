// Package rendezvous provides deterministic ordering between a test process
// and the child processes it forks.
//
// A child is the current executable re-executed with the name of a registered
// Routine in its environment. A synchronized fork connects parent and child
// with two one-directional pipes carrying a minimal framed protocol:
//
//	'R'                      release token, consumed by exactly one Sync
//	'P' <uint32 BE len> <b>  payload, consumed by exactly one Receive
//
// Every Release must be matched by exactly one Sync on the other side, and
// every Send by one Receive. Extra releases stay buffered in the pipe and
// satisfy a later Sync; the protocol does not detect them.
//
// Programs using forks must call Init first thing in main (or TestMain).
package rendezvous

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	envRoutine = "KGRADER_RENDEZVOUS_ROUTINE"
	envArg     = "KGRADER_RENDEZVOUS_ARG"
	envSync    = "KGRADER_RENDEZVOUS_SYNC"

	// child side descriptors of a synchronized fork (ExtraFiles start at 3)
	childInFd  = 3
	childOutFd = 4

	// ExitUnknownRoutine is the exit code of a child asked to run an
	// unregistered routine.
	ExitUnknownRoutine = 127
	// ExitPanic is the exit code of a child whose routine panicked.
	ExitPanic = 126
)

var (
	// ErrPeerGone is returned when the other side closed its channel or exited.
	ErrPeerGone = errors.New("rendezvous: peer gone")
	// ErrProtocol is returned when a frame does not match the operation.
	ErrProtocol = errors.New("rendezvous: protocol violation")
	// ErrUnknownRoutine is returned when forking an unregistered routine.
	ErrUnknownRoutine = errors.New("rendezvous: unknown routine")
)

// Routine is the body of a forked child. peer is nil for fire-and-forget
// children. The return value becomes the child's exit code.
type Routine func(ctx context.Context, peer *Peer, arg []byte) int

var (
	registry   = map[string]Routine{}
	registryMu sync.RWMutex
)

// Register makes fn available to forked children under name. It must be
// called before Init, typically from an init function.
func Register(name string, fn Routine) {
	if name == "" || fn == nil {
		panic("rendezvous: invalid registration")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("rendezvous: routine %q registered twice", name))
	}
	registry[name] = fn
}

func lookup(name string) (Routine, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// IsChild reports whether the current process is a forked rendezvous child.
func IsChild() bool {
	return os.Getenv(envRoutine) != ""
}

// Init runs the requested routine and exits when the current process is a
// forked child; otherwise it returns immediately.
func Init() {
	name := os.Getenv(envRoutine)
	if name == "" {
		return
	}
	os.Exit(runChild(name))
}

func runChild(name string) (code int) {
	arg, _ := hex.DecodeString(os.Getenv(envArg))
	synchronized := os.Getenv(envSync) == "1"
	for _, key := range []string{envRoutine, envArg, envSync} {
		_ = os.Unsetenv(key)
	}
	fn, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "rendezvous: unknown routine %q\n", name)
		return ExitUnknownRoutine
	}
	var peer *Peer
	if synchronized {
		peer = newPeer(os.NewFile(childInFd, "rendezvous-in"), os.NewFile(childOutFd, "rendezvous-out"))
		defer peer.Close()
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "rendezvous: routine %q panicked: %v\n", name, r)
			code = ExitPanic
		}
	}()
	return fn(context.Background(), peer, arg)
}

// childEnv returns the parent's environment without rendezvous variables,
// plus the ones describing the requested child.
func childEnv(name string, arg []byte, synchronized bool) []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "KGRADER_RENDEZVOUS_") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, envRoutine+"="+name, envArg+"="+hex.EncodeToString(arg))
	if synchronized {
		env = append(env, envSync+"=1")
	}
	return env
}

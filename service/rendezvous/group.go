package rendezvous

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// Fork is the parent's handle of a synchronized child: the Peer operations
// talk to the child, the Child operations reap or kill it.
type Fork struct {
	*Peer
	*Child
}

// Finish closes the channels and reaps the child.
func (f *Fork) Finish() (int, error) {
	_ = f.Peer.Close()
	return f.Child.Wait()
}

// Group tracks the children forked within one scope, typically one test case,
// so that they can be reaped together or killed when the scope is abandoned.
type Group struct {
	children *xsync.MapOf[int, *Child]
	peers    *xsync.MapOf[*Peer, struct{}]
	output   io.Writer
}

// GroupOption customises a Group.
type GroupOption func(g *Group)

// WithOutput redirects children's stdout and stderr (os.Stderr by default).
func WithOutput(w io.Writer) GroupOption {
	return func(g *Group) { g.output = w }
}

// NewGroup creates an empty group.
func NewGroup(opts ...GroupOption) *Group {
	g := &Group{
		children: xsync.NewMapOf[int, *Child](),
		peers:    xsync.NewMapOf[*Peer, struct{}](),
		output:   os.Stderr,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Spawn forks a fire-and-forget child; reap it with Wait or WaitAll.
// Cancelling ctx kills the child.
func (g *Group) Spawn(ctx context.Context, routine string, arg []byte) (*Child, error) {
	return startChild(ctx, routine, arg, g.output, nil, g.track, g.forget)
}

// SyncFork forks a child connected by a pair of rendezvous channels.
func (g *Group) SyncFork(ctx context.Context, routine string, arg []byte) (*Fork, error) {
	parentOut, childIn, err := pipe(false)
	if err != nil {
		return nil, err
	}
	parentIn, childOut, err := pipe(true)
	if err != nil {
		_ = parentOut.Close()
		_ = childIn.Close()
		return nil, err
	}
	peer := newPeer(parentIn, parentOut)
	child, err := startChild(ctx, routine, arg, g.output, []*os.File{childIn, childOut}, g.track, g.forget)
	if err != nil {
		_ = peer.Close()
		return nil, err
	}
	g.peers.Store(peer, struct{}{})
	return &Fork{Peer: peer, Child: child}, nil
}

// Live returns the number of children not yet reaped.
func (g *Group) Live() int {
	return g.children.Size()
}

// WaitAll reaps every live child and returns the first failure.
func (g *Group) WaitAll(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	g.children.Range(func(_ int, child *Child) bool {
		eg.Go(func() error {
			_, err := child.WaitContext(ctx)
			return err
		})
		return true
	})
	return eg.Wait()
}

// Kill SIGKILLs every live child and closes every channel, unblocking any
// goroutine stuck in Sync or Receive. It returns the number of children hit.
func (g *Group) Kill() int {
	killed := 0
	g.children.Range(func(_ int, child *Child) bool {
		if err := child.Kill(); err == nil {
			killed++
		}
		return true
	})
	g.closePeers()
	return killed
}

// Close releases the group: channels are closed, remaining children killed
// and reaped.
func (g *Group) Close() error {
	g.Kill()
	var firstErr error
	g.children.Range(func(_ int, child *Child) bool {
		if _, err := child.Wait(); err != nil && firstErr == nil {
			if _, ok := err.(*ExitError); !ok {
				firstErr = err
			}
		}
		return true
	})
	if firstErr != nil {
		return fmt.Errorf("failed to reap children: %w", firstErr)
	}
	return nil
}

func (g *Group) closePeers() {
	g.peers.Range(func(peer *Peer, _ struct{}) bool {
		_ = peer.Close()
		g.peers.Delete(peer)
		return true
	})
}

func (g *Group) track(child *Child) {
	g.children.Store(child.Pid(), child)
}

func (g *Group) forget(child *Child) {
	g.children.Delete(child.Pid())
}

var defaultGroup = NewGroup()

// Spawn forks a fire-and-forget child in the process wide group.
func Spawn(ctx context.Context, routine string, arg []byte) (*Child, error) {
	return defaultGroup.Spawn(ctx, routine, arg)
}

// SyncFork forks a synchronized child in the process wide group.
func SyncFork(ctx context.Context, routine string, arg []byte) (*Fork, error) {
	return defaultGroup.SyncFork(ctx, routine, arg)
}

package rendezvous

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register("echo", func(ctx context.Context, peer *Peer, arg []byte) int {
		if err := peer.Sync(); err != nil {
			return 10
		}
		msg, err := peer.Receive()
		if err != nil {
			return 11
		}
		if err := peer.Send(bytes.ToUpper(msg)); err != nil {
			return 12
		}
		if err := peer.Release(); err != nil {
			return 13
		}
		return 0
	})
	Register("register-first", func(ctx context.Context, peer *Peer, arg []byte) int {
		if err := appendLine(string(arg), "child"); err != nil {
			return 10
		}
		if err := peer.Release(); err != nil {
			return 11
		}
		if err := peer.Sync(); err != nil {
			return 12
		}
		return 0
	})
	Register("late-release", func(ctx context.Context, peer *Peer, arg []byte) int {
		time.Sleep(300 * time.Millisecond)
		if err := peer.Release(); err != nil {
			return 10
		}
		return 0
	})
	Register("crash", func(ctx context.Context, peer *Peer, arg []byte) int {
		os.Exit(3)
		return 0
	})
	Register("hang", func(ctx context.Context, peer *Peer, arg []byte) int {
		_ = peer.Sync()
		return 0
	})
	Register("exit-code", func(ctx context.Context, peer *Peer, arg []byte) int {
		code, _ := strconv.Atoi(string(arg))
		return code
	})
	Register("payload-first", func(ctx context.Context, peer *Peer, arg []byte) int {
		_ = peer.SendString("id=42")
		return 0
	})
	Register("panic", func(ctx context.Context, peer *Peer, arg []byte) int {
		panic("boom")
	})
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func newTestGroup(t *testing.T) *Group {
	g := NewGroup(WithOutput(io.Discard))
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestSyncFork_Handshake(t *testing.T) {
	ctx := context.Background()
	fork, err := newTestGroup(t).SyncFork(ctx, "echo", nil)
	require.NoError(t, err)

	require.NoError(t, fork.Release())
	require.NoError(t, fork.SendString("token"))
	reply, err := fork.ReceiveString()
	require.NoError(t, err)
	assert.Equal(t, "TOKEN", reply)
	require.NoError(t, fork.Sync())

	code, err := fork.Finish()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestSyncFork_OrdersActions(t *testing.T) {
	ctx := context.Background()
	journal := filepath.Join(t.TempDir(), "journal")
	fork, err := newTestGroup(t).SyncFork(ctx, "register-first", []byte(journal))
	require.NoError(t, err)

	require.NoError(t, fork.Sync())
	require.NoError(t, appendLine(journal, "parent"))
	require.NoError(t, fork.Release())
	_, err = fork.Finish()
	require.NoError(t, err)

	data, err := os.ReadFile(journal)
	require.NoError(t, err)
	assert.Equal(t, "child\nparent\n", string(data))
}

func TestSync_BlocksUntilRelease(t *testing.T) {
	ctx := context.Background()
	fork, err := newTestGroup(t).SyncFork(ctx, "late-release", nil)
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, fork.Sync())
	assert.GreaterOrEqual(t, time.Since(started), 250*time.Millisecond)
	_, err = fork.Finish()
	assert.NoError(t, err)
}

func TestSync_PeerCrashed(t *testing.T) {
	ctx := context.Background()
	fork, err := newTestGroup(t).SyncFork(ctx, "crash", nil)
	require.NoError(t, err)

	err = fork.Sync()
	assert.ErrorIs(t, err, ErrPeerGone)

	code, err := fork.Finish()
	assert.Equal(t, 3, code)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "crash", exitErr.Routine)
}

func TestSync_ProtocolViolation(t *testing.T) {
	ctx := context.Background()
	fork, err := newTestGroup(t).SyncFork(ctx, "payload-first", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, fork.Sync(), ErrProtocol)
	_, _ = fork.Finish()
}

func TestSync_DeadlineAndKill(t *testing.T) {
	ctx := context.Background()
	group := newTestGroup(t)
	fork, err := group.SyncFork(ctx, "hang", nil)
	require.NoError(t, err)

	require.NoError(t, fork.SetDeadline(time.Now().Add(100*time.Millisecond)))
	err = fork.Sync()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	assert.Equal(t, 1, group.Kill())
	code, err := fork.Wait()
	assert.Equal(t, -1, code)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, syscall.SIGKILL, exitErr.Signal)
	assert.ErrorIs(t, fork.Sync(), ErrPeerGone)
}

func TestKill_UnblocksPendingSync(t *testing.T) {
	ctx := context.Background()
	group := newTestGroup(t)
	fork, err := group.SyncFork(ctx, "hang", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- fork.Sync() }()
	time.Sleep(50 * time.Millisecond)
	group.Kill()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPeerGone)
	case <-time.After(5 * time.Second):
		t.Fatal("sync was not unblocked")
	}
}

func TestSpawn_FireAndForget(t *testing.T) {
	ctx := context.Background()
	group := newTestGroup(t)
	testCases := []struct {
		description string
		routine     string
		arg         string
		expectCode  int
	}{
		{description: "success", routine: "exit-code", arg: "0", expectCode: 0},
		{description: "failure", routine: "exit-code", arg: "7", expectCode: 7},
		{description: "panic", routine: "panic", expectCode: ExitPanic},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			child, err := group.Spawn(ctx, tc.routine, []byte(tc.arg))
			require.NoError(t, err)
			code, err := child.Wait()
			assert.Equal(t, tc.expectCode, code)
			assert.Equal(t, tc.expectCode != 0, err != nil)
			assert.True(t, child.Exited())
		})
	}
	assert.Equal(t, 0, group.Live())
}

func TestSpawn_WaitAllAndCancel(t *testing.T) {
	group := newTestGroup(t)
	for i := 0; i < 3; i++ {
		_, err := group.Spawn(context.Background(), "exit-code", []byte("0"))
		require.NoError(t, err)
	}
	require.NoError(t, group.WaitAll(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	fork, err := group.SyncFork(ctx, "hang", nil)
	require.NoError(t, err)
	cancel()
	_, err = fork.Wait()
	assert.Error(t, err)
}

func TestSpawn_UnknownRoutine(t *testing.T) {
	_, err := newTestGroup(t).Spawn(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownRoutine)
}

func TestChildEnv(t *testing.T) {
	t.Setenv(envRoutine, "stale")
	env := childEnv("echo", []byte{0xca, 0xfe}, true)
	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, envRoutine+"=echo")
	assert.Contains(t, joined, envArg+"=cafe")
	assert.Contains(t, joined, envSync+"=1")
	assert.NotContains(t, joined, "=stale")
}

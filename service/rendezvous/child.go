package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Child is a forked process running a registered routine.
type Child struct {
	routine string
	cmd     *exec.Cmd
	done    chan struct{}
	code    int
	signal  syscall.Signal
	err     error
	stop    func() bool
}

// ExitError reports a child that did not exit with status zero.
type ExitError struct {
	Routine string
	Pid     int
	Code    int
	Signal  syscall.Signal
}

func (e *ExitError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("rendezvous: child %s[%d] killed by %v", e.Routine, e.Pid, e.Signal)
	}
	return fmt.Sprintf("rendezvous: child %s[%d] exited with %d", e.Routine, e.Pid, e.Code)
}

// Pid returns the child's process id.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Routine returns the name of the routine the child runs.
func (c *Child) Routine() string { return c.routine }

// Wait blocks until the child has terminated and returns its exit code; a
// child killed by a signal reports -1 and a non nil *ExitError.
func (c *Child) Wait() (int, error) {
	<-c.done
	return c.code, c.result()
}

// WaitContext is Wait bounded by ctx; the child keeps running when ctx ends.
func (c *Child) WaitContext(ctx context.Context) (int, error) {
	select {
	case <-c.done:
		return c.code, c.result()
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Exited reports whether the child has been reaped.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Kill sends SIGKILL to the child's process group, taking any grandchildren
// with it. Killing an exited child is a no-op.
func (c *Child) Kill() error {
	if c.Exited() {
		return nil
	}
	if err := unix.Kill(-c.Pid(), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill child %d: %w", c.Pid(), err)
	}
	return nil
}

func (c *Child) result() error {
	if c.err != nil {
		return c.err
	}
	if c.code != 0 || c.signal != 0 {
		return &ExitError{Routine: c.routine, Pid: c.Pid(), Code: c.code, Signal: c.signal}
	}
	return nil
}

func (c *Child) reap(onExit func(*Child)) {
	err := c.cmd.Wait()
	if c.stop != nil {
		c.stop()
	}
	state := c.cmd.ProcessState
	var exitErr *exec.ExitError
	switch {
	case state != nil:
		c.code = state.ExitCode()
		if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			c.signal = status.Signal()
		}
	case err != nil && !errors.As(err, &exitErr):
		c.err = fmt.Errorf("failed to wait for child %s: %w", c.routine, err)
	}
	if onExit != nil {
		onExit(c)
	}
	close(c.done)
}

// startChild re-executes the current binary running routine. extra become the
// child's descriptors 3.. and are closed in the parent once the child started.
func startChild(ctx context.Context, routine string, arg []byte, output io.Writer, extra []*os.File, onStart, onExit func(*Child)) (*Child, error) {
	if _, ok := lookup(routine); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoutine, routine)
	}
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	cmd := exec.Command(executable)
	cmd.Env = childEnv(routine, arg, len(extra) > 0)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.ExtraFiles = extra
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err = cmd.Start()
	for _, f := range extra {
		_ = f.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fork %s: %w", routine, err)
	}
	child := &Child{routine: routine, cmd: cmd, done: make(chan struct{})}
	if onStart != nil {
		onStart(child)
	}
	child.stop = context.AfterFunc(ctx, func() { _ = child.Kill() })
	go child.reap(onExit)
	return child, nil
}

// pipe returns a CLOEXEC pipe; the parent's end is made non-blocking so that
// deadlines and Close can interrupt a pending read or write.
func pipe(parentReads bool) (parentEnd, childEnd *os.File, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	parentFd, childFd := fds[1], fds[0]
	if parentReads {
		parentFd, childFd = fds[0], fds[1]
	}
	if err := unix.SetNonblock(parentFd, true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, fmt.Errorf("failed to configure pipe: %w", err)
	}
	return os.NewFile(uintptr(parentFd), "rendezvous-parent"), os.NewFile(uintptr(childFd), "rendezvous-child"), nil
}

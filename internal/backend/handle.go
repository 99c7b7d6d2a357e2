package backend

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
)

// Handle is the opaque handle to the spawned backend process. It is written
// once by the Supervisor and later read by the shutdown coordinator; there is
// never more than one live handle per launcher instance.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode *int
	exitErr  error
}

func newHandle(cmd *exec.Cmd) *Handle {
	return &Handle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
}

// PID returns the process identifier of the backend.
func (h *Handle) PID() int {
	return h.pid
}

// Alive reports whether the process has not yet been observed to exit.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the exit code once the process has terminated.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitCode == nil {
		return 0, false
	}
	return *h.exitCode, true
}

// Terminate sends the graceful termination signal to the backend's process
// group, so children spawned by runserver receive it as well.
func (h *Handle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-h.pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill sends the forceful kill signal to the backend's process group.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Wait blocks until the process exits or the context is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

func (h *Handle) recordExit(err error) {
	h.mu.Lock()
	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	h.exitCode = &code
	h.exitErr = err
	h.mu.Unlock()

	close(h.done)
}

// Package shutdown terminates the backend process on application exit.
package shutdown

import (
	"log"
	"time"

	"github.com/factudesk/factudesk/internal/backend"
)

const defaultGracePeriod = 5 * time.Second

// Coordinator sends a graceful termination signal to the backend and
// escalates to a forceful kill after the grace period. Stop is
// fire-and-forget: application exit never blocks on child termination.
type Coordinator struct {
	grace time.Duration
}

// NewCoordinator creates a coordinator with the given grace period.
func NewCoordinator(grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Coordinator{grace: grace}
}

// Stop asks the backend to terminate. Returns immediately; the grace timer
// and the escalation run in the background.
func (c *Coordinator) Stop(h *backend.Handle) {
	if h == nil || !h.Alive() {
		return
	}

	if err := h.Terminate(); err != nil {
		log.Printf("shutdown_event=terminate_failed pid=%d error=%q", h.PID(), err.Error())
	} else {
		log.Printf("shutdown_event=terminate_sent pid=%d grace=%s", h.PID(), c.grace)
	}

	go func() {
		select {
		case <-h.Done():
			code, _ := h.ExitCode()
			log.Printf("shutdown_event=exited pid=%d exit_code=%d", h.PID(), code)
		case <-time.After(c.grace):
			log.Printf("shutdown_event=kill pid=%d", h.PID())
			h.Kill()
		}
	}()
}

// StopAndWait terminates the backend and waits up to the grace period plus a
// small margin for it to go away. Used by tests and by explicit restart
// flows; normal exit uses Stop.
func (c *Coordinator) StopAndWait(h *backend.Handle) {
	if h == nil || !h.Alive() {
		return
	}

	c.Stop(h)

	select {
	case <-h.Done():
	case <-time.After(c.grace + time.Second):
		h.Kill()
	}
}

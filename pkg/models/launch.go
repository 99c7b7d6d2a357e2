// Package models defines the core domain types for the factudesk launcher.
package models

import (
	"time"
)

// LaunchState represents the current state of a launch attempt.
type LaunchState string

const (
	LaunchStateNotStarted LaunchState = "not_started"
	LaunchStateStarting   LaunchState = "starting"
	LaunchStateProbing    LaunchState = "probing"
	LaunchStateReady      LaunchState = "ready"
	LaunchStateFailed     LaunchState = "failed"
)

// ValidLaunchState checks if a launch state is valid.
func ValidLaunchState(s LaunchState) bool {
	switch s {
	case LaunchStateNotStarted, LaunchStateStarting, LaunchStateProbing,
		LaunchStateReady, LaunchStateFailed:
		return true
	}
	return false
}

// SurfaceState represents the state of a shell surface (splash or main).
type SurfaceState string

const (
	SurfaceSplash  SurfaceState = "splash"
	SurfaceLoading SurfaceState = "loading"
	SurfaceReady   SurfaceState = "ready"
	SurfaceClosed  SurfaceState = "closed"
)

// EventKind identifies a lifecycle event published by the launcher stages.
type EventKind string

const (
	EventProcessStarted EventKind = "process_started"
	EventProcessExited  EventKind = "process_exited"
	EventProbeSucceeded EventKind = "probe_succeeded"
	EventContentLoaded  EventKind = "content_loaded"
	EventContentFailed  EventKind = "content_failed"
)

// Event is a typed lifecycle event consumed by the coordinator.
type Event struct {
	Kind     EventKind `json:"kind"`
	LaunchID string    `json:"launch_id"`
	PID      int       `json:"pid,omitempty"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Launch represents one launch attempt of the backend.
type Launch struct {
	ID          string      `json:"id"`
	State       LaunchState `json:"state"`
	Interpreter string      `json:"interpreter,omitempty"`
	PID         int         `json:"pid,omitempty"`
	Port        int         `json:"port,omitempty"`
	BackendURL  string      `json:"backend_url,omitempty"`
	Attempts    int         `json:"attempts,omitempty"`
	ExitCode    *int        `json:"exit_code,omitempty"`
	Error       string      `json:"error,omitempty"`
	LogFile     string      `json:"log_file,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	ReadyAt     *time.Time  `json:"ready_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Duration is a wrapper around time.Duration for JSON marshaling.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return nil
	}
	// Remove quotes
	s := string(b[1 : len(b)-1])
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Decode implements envconfig.Decoder so durations can be overridden from
// environment variables.
func (d *Duration) Decode(value string) error {
	if value == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Clone returns a deep copy of the launch record.
func (l *Launch) Clone() *Launch {
	c := *l
	if l.ExitCode != nil {
		v := *l.ExitCode
		c.ExitCode = &v
	}
	if l.StartedAt != nil {
		v := *l.StartedAt
		c.StartedAt = &v
	}
	if l.ReadyAt != nil {
		v := *l.ReadyAt
		c.ReadyAt = &v
	}
	if l.CompletedAt != nil {
		v := *l.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// IsTerminal returns true if the launch is in a terminal state.
func (l *Launch) IsTerminal() bool {
	return l.State == LaunchStateReady || l.State == LaunchStateFailed
}

// StartupDuration returns the time from creation to readiness, or zero when
// the launch never became ready.
func (l *Launch) StartupDuration() time.Duration {
	if l.ReadyAt == nil {
		return 0
	}
	return l.ReadyAt.Sub(l.CreatedAt)
}

// LaunchSummary provides a condensed view of a launch for listing.
type LaunchSummary struct {
	ID          string      `json:"id"`
	State       LaunchState `json:"state"`
	Interpreter string      `json:"interpreter,omitempty"`
	PID         int         `json:"pid,omitempty"`
	Attempts    int         `json:"attempts,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Startup     string      `json:"startup,omitempty"`
}

// ToSummary converts a Launch to a LaunchSummary.
func (l *Launch) ToSummary() LaunchSummary {
	summary := LaunchSummary{
		ID:          l.ID,
		State:       l.State,
		Interpreter: l.Interpreter,
		PID:         l.PID,
		Attempts:    l.Attempts,
		Error:       l.Error,
		CreatedAt:   l.CreatedAt,
	}
	if d := l.StartupDuration(); d > 0 {
		summary.Startup = d.Round(time.Millisecond).String()
	}
	return summary
}

// ListRequest represents a request to list launches.
type ListRequest struct {
	State  []LaunchState `json:"state,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}

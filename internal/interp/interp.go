// Package interp locates a Python runtime for spawning the billing backend.
package interp

import (
	"context"
	"log"
	"os/exec"
	"time"
)

// DefaultName is the bare interpreter name used when no candidate responds to
// a version probe. Spawning with it may still fail; that failure is surfaced
// by the supervisor, not masked here.
const DefaultName = "python3"

const defaultVersionTimeout = 2 * time.Second

// Locator probes an ordered list of interpreter candidates.
type Locator struct {
	candidates  []string
	versionArgs []string
	timeout     time.Duration
}

// NewLocator creates a locator over the given candidate list. Candidates may
// be bare binary names or well-known install paths.
func NewLocator(candidates []string, timeout time.Duration) *Locator {
	if timeout <= 0 {
		timeout = defaultVersionTimeout
	}
	return &Locator{
		candidates:  candidates,
		versionArgs: []string{"--version"},
		timeout:     timeout,
	}
}

// SetVersionArgs overrides the arguments used for the version probe.
func (l *Locator) SetVersionArgs(args []string) {
	l.versionArgs = args
}

// Locate returns the first candidate whose version probe succeeds. When every
// probe fails it falls back to DefaultName and reports probed=false.
func (l *Locator) Locate(ctx context.Context) (path string, probed bool) {
	for _, candidate := range l.candidates {
		if candidate == "" {
			continue
		}
		if l.probe(ctx, candidate) {
			log.Printf("interp_event=selected candidate=%q", candidate)
			return candidate, true
		}
	}

	log.Printf("interp_event=fallback candidate=%q", DefaultName)
	return DefaultName, false
}

func (l *Locator) probe(ctx context.Context, candidate string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, candidate, l.versionArgs...)
	err := cmd.Run()
	if err != nil {
		log.Printf("interp_event=probe candidate=%q ok=false error=%q", candidate, err.Error())
		return false
	}

	log.Printf("interp_event=probe candidate=%q ok=true", candidate)
	return true
}

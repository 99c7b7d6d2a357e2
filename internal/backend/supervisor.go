// Package backend handles spawning and supervising the Django billing backend.
package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/factudesk/factudesk/internal/interp"
)

const (
	defaultMarkerSettle = 1 * time.Second
	defaultSpawnTimeout = 30 * time.Second
	maxScanTokenSize    = 1024 * 1024
)

// DefaultMarkers are the stdout substrings taken as evidence that the backend
// has begun listening. The runserver banner covers plain Django; the [INFO]
// line covers the bundled launcher script.
var DefaultMarkers = []string{
	"Starting development server",
	"Quit the server with",
	"Watching for file changes",
	"[INFO] Starting server",
}

// phaseMarkers are progress lines printed by the launcher script before the
// server itself comes up (migrations, collectstatic).
var phaseMarkers = []string{"[DB]", "[STATIC]", "[SERVER]"}

// SpawnError reports that the backend could not be started: either spawning
// the interpreter failed outright, or the child exited before any readiness
// marker was observed.
type SpawnError struct {
	ExitCode int
	Reason   string
}

func (e *SpawnError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("backend spawn failed: %s (exit code %d)", e.Reason, e.ExitCode)
	}
	return fmt.Sprintf("backend spawn failed with exit code %d", e.ExitCode)
}

// Config holds supervisor configuration.
type Config struct {
	// Interpreter, when set, bypasses the locator. Tests use this.
	Interpreter    string
	Locator        *interp.Locator
	Host           string
	Port           int
	WorkDir        string
	SettingsModule string
	LogDir         string
	// Args overrides the backend command line. Empty means the standard
	// manage.py runserver invocation.
	Args         []string
	Markers      []string
	MarkerSettle time.Duration
	SpawnTimeout time.Duration
}

// Supervisor spawns the backend process and observes its output until it is
// considered started.
type Supervisor struct {
	cfg Config
}

// StartInfo describes how a start attempt was performed.
type StartInfo struct {
	Interpreter string
	Probed      bool
	LogFile     string
}

// NewSupervisor creates a supervisor. The log directory is created eagerly so
// spawn failures can still be journaled next to earlier launches.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.MarkerSettle <= 0 {
		cfg.MarkerSettle = defaultMarkerSettle
	}
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = defaultSpawnTimeout
	}
	if len(cfg.Markers) == 0 {
		cfg.Markers = DefaultMarkers
	}
	if cfg.LogDir != "" {
		if abs, err := filepath.Abs(cfg.LogDir); err == nil {
			cfg.LogDir = abs
		}
		os.MkdirAll(cfg.LogDir, 0755)
	}
	return &Supervisor{cfg: cfg}
}

// Start spawns the backend and blocks until a readiness marker has been seen
// (plus the marker settle delay), the spawn timeout elapses, or the child
// exits. A child exiting before any marker yields a SpawnError carrying its
// exit code; once a marker has been seen the start resolves no matter what the
// child does afterwards. A timeout without markers resolves anyway: a
// possibly-premature "started" beats hanging forever.
func (s *Supervisor) Start(ctx context.Context, launchID string) (*Handle, StartInfo, error) {
	info := StartInfo{Interpreter: s.cfg.Interpreter, Probed: s.cfg.Interpreter != ""}
	if info.Interpreter == "" {
		if s.cfg.Locator == nil {
			return nil, info, &SpawnError{ExitCode: -1, Reason: "no interpreter configured"}
		}
		info.Interpreter, info.Probed = s.cfg.Locator.Locate(ctx)
	}
	interpreter := info.Interpreter

	cmd := exec.CommandContext(ctx, interpreter, s.buildArgs()...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DJANGO_SETTINGS_MODULE=%s", s.cfg.SettingsModule),
		fmt.Sprintf("PORT=%d", s.cfg.Port),
		"PYTHONUNBUFFERED=1",
	)
	// Own process group: termination signals must reach runserver's children
	// too, or a grandchild holding the output pipes outlives the backend and
	// the handle never observes the exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if s.cfg.LogDir != "" {
		info.LogFile = filepath.Join(s.cfg.LogDir, fmt.Sprintf("%s.log", launchID))
		f, err := os.Create(info.LogFile)
		if err != nil {
			return nil, info, fmt.Errorf("failed to create backend log file: %w", err)
		}
		logFile = f
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeIfOpen(logFile)
		return nil, info, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeIfOpen(logFile)
		return nil, info, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeIfOpen(logFile)
		return nil, info, &SpawnError{ExitCode: -1, Reason: err.Error()}
	}

	handle := newHandle(cmd)

	log.Printf(
		"launch_event=spawned launch_id=%s pid=%d interpreter=%q probed=%v work_dir=%q settings=%q port=%d log_file=%q",
		launchID, handle.PID(), interpreter, info.Probed, s.cfg.WorkDir, s.cfg.SettingsModule, s.cfg.Port, info.LogFile,
	)

	markerCh := make(chan struct{})
	var markerOnce sync.Once

	var wg sync.WaitGroup
	wg.Add(2)
	go s.scanOutput(&wg, stdout, logFile, "", launchID, &markerOnce, markerCh)
	go s.scanOutput(&wg, stderr, logFile, "[stderr] ", launchID, &markerOnce, markerCh)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		closeIfOpen(logFile)
		handle.recordExit(err)
	}()

	select {
	case <-markerCh:
		// Absorb startup races before declaring the process started. An exit
		// during the settle window is not a spawn failure: the marker was
		// seen, so the start resolves and the readiness probe decides.
		time.Sleep(s.cfg.MarkerSettle)
		if !handle.Alive() {
			code, _ := handle.ExitCode()
			log.Printf("launch_event=exited_after_marker launch_id=%s pid=%d exit_code=%d", launchID, handle.PID(), code)
		}
		log.Printf("launch_event=started launch_id=%s pid=%d", launchID, handle.PID())
		return handle, info, nil
	case <-handle.Done():
		code, _ := handle.ExitCode()
		return nil, info, &SpawnError{ExitCode: code, Reason: "backend exited before readiness marker"}
	case <-time.After(s.cfg.SpawnTimeout):
		log.Printf("launch_event=start_timeout launch_id=%s pid=%d timeout=%s", launchID, handle.PID(), s.cfg.SpawnTimeout)
		return handle, info, nil
	case <-ctx.Done():
		return nil, info, ctx.Err()
	}
}

func (s *Supervisor) buildArgs() []string {
	if len(s.cfg.Args) > 0 {
		return s.cfg.Args
	}
	return []string{
		"manage.py",
		"runserver",
		fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		"--noreload",
		"--insecure",
	}
}

func (s *Supervisor) scanOutput(wg *sync.WaitGroup, r io.ReadCloser, logFile *os.File, prefix, launchID string, markerOnce *sync.Once, markerCh chan struct{}) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()

		if logFile != nil {
			fmt.Fprintf(logFile, "%s%s\n", prefix, line)
		}

		for _, phase := range phaseMarkers {
			if strings.Contains(line, phase) {
				log.Printf("launch_event=phase launch_id=%s phase=%q line=%q", launchID, phase, line)
				break
			}
		}

		for _, marker := range s.cfg.Markers {
			if strings.Contains(line, marker) {
				markerOnce.Do(func() {
					log.Printf("launch_event=marker launch_id=%s marker=%q", launchID, marker)
					close(markerCh)
				})
				break
			}
		}
	}
}

func closeIfOpen(f *os.File) {
	if f != nil {
		f.Close()
	}
}

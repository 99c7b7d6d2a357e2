package launcher

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/factudesk/factudesk/internal/backend"
	"github.com/factudesk/factudesk/internal/config"
	"github.com/factudesk/factudesk/internal/probe"
	"github.com/factudesk/factudesk/pkg/models"
)

// recordingUI captures surface calls so tests can assert on the sequence.
type recordingUI struct {
	mu          sync.Mutex
	splashShown bool
	attachedURL string
	revealed    int
	destroyed   int
	errorTitles []string
}

func (u *recordingUI) ShowSplash() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.splashShown = true
}

func (u *recordingUI) AttachMain(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attachedURL = url
}

func (u *recordingUI) RevealMain() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.revealed++
}

func (u *recordingUI) DestroySplash() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.destroyed++
}

func (u *recordingUI) ShowError(title, message, detail string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errorTitles = append(u.errorTitles, title)
}

func (u *recordingUI) snapshot() recordingUI {
	u.mu.Lock()
	defer u.mu.Unlock()
	return recordingUI{
		splashShown: u.splashShown,
		attachedURL: u.attachedURL,
		revealed:    u.revealed,
		destroyed:   u.destroyed,
		errorTitles: append([]string(nil), u.errorTitles...),
	}
}

func captureStdLogger(t *testing.T) (*bytes.Buffer, func()) {
	t.Helper()

	buf := &bytes.Buffer{}
	prevOut := log.Writer()
	prevFlags := log.Flags()
	prevPrefix := log.Prefix()

	log.SetOutput(buf)
	log.SetFlags(0)
	log.SetPrefix("")

	return buf, func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
		log.SetPrefix(prevPrefix)
	}
}

// setupTestLauncher builds a launcher whose "backend" is a shell script and
// whose backend URL points at the given HTTP test server.
func setupTestLauncher(t *testing.T, script, backendURL string, maxAttempts int) (*Launcher, *recordingUI, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "factudesk-launcher-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	host, port := splitHostPort(t, backendURL)

	cfg := config.DefaultConfig()
	cfg.Backend.Host = host
	cfg.Backend.Port = port
	cfg.Backend.Interpreter = "sh"
	cfg.Backend.Args = []string{"-c", script}
	cfg.Backend.WorkDir = tmpDir
	cfg.Backend.MarkerSettle = models.Duration(10 * time.Millisecond)
	cfg.Backend.SpawnTimeout = models.Duration(5 * time.Second)
	cfg.Probe.MaxAttempts = maxAttempts
	cfg.Probe.Interval = models.Duration(20 * time.Millisecond)
	cfg.Probe.RequestTimeout = models.Duration(500 * time.Millisecond)
	cfg.Probe.PostReadyDelay = models.Duration(10 * time.Millisecond)
	cfg.Shell.RevealDelay = models.Duration(10 * time.Millisecond)
	cfg.Launcher.StorePath = filepath.Join(tmpDir, "launches.json")
	cfg.Launcher.LogDir = filepath.Join(tmpDir, "logs")
	cfg.Launcher.GracePeriod = models.Duration(2 * time.Second)

	ui := &recordingUI{}
	l, err := New(cfg, ui)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create launcher: %v", err)
	}

	cleanup := func() {
		l.Shutdown()
		os.RemoveAll(tmpDir)
	}
	return l, ui, cleanup
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("Failed to split test server host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Bad test server port: %v", err)
	}
	return host, port
}

const markerScript = `echo "Starting development server at http://127.0.0.1:8000/"; sleep 10`

func TestRunHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>facturation</html>"))
	}))
	defer srv.Close()

	l, ui, cleanup := setupTestLauncher(t, markerScript, srv.URL, 5)
	defer cleanup()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Expected launch to succeed, got %v", err)
	}

	launch := l.Current()
	if launch.State != models.LaunchStateReady {
		t.Errorf("Expected ready state, got %s", launch.State)
	}
	if launch.PID <= 0 {
		t.Errorf("Expected a recorded PID, got %d", launch.PID)
	}
	if launch.Interpreter != "sh" {
		t.Errorf("Expected interpreter sh, got %s", launch.Interpreter)
	}
	if launch.Attempts < 1 {
		t.Errorf("Expected at least one probe attempt, got %d", launch.Attempts)
	}
	if launch.ReadyAt == nil {
		t.Error("Expected ReadyAt to be set")
	}

	snap := ui.snapshot()
	if !snap.splashShown {
		t.Error("Expected splash to be shown")
	}
	if snap.attachedURL == "" {
		t.Error("Expected main surface to be attached to the backend URL")
	}
	if snap.revealed != 1 || snap.destroyed != 1 {
		t.Errorf("Expected exactly one reveal and one splash teardown, got %d/%d", snap.revealed, snap.destroyed)
	}
	if len(snap.errorTitles) != 0 {
		t.Errorf("Expected no error dialogs, got %v", snap.errorTitles)
	}

	// The record made it to the journal.
	stored, err := l.Lookup(launch.ID)
	if err != nil {
		t.Fatalf("Failed to look up launch: %v", err)
	}
	if stored.State != models.LaunchStateReady {
		t.Errorf("Expected journaled ready state, got %s", stored.State)
	}
}

func TestRunFailsWhenBackendExitsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l, ui, cleanup := setupTestLauncher(t, `echo "booting"; exit 7`, srv.URL, 3)
	defer cleanup()

	err := l.Run(context.Background())
	if err == nil {
		t.Fatal("Expected launch to fail when backend exits before marker")
	}

	var spawnErr *backend.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Expected SpawnError, got %T: %v", err, err)
	}
	if spawnErr.ExitCode != 7 {
		t.Errorf("Expected exit code 7, got %d", spawnErr.ExitCode)
	}

	launch := l.Current()
	if launch.State != models.LaunchStateFailed {
		t.Errorf("Expected failed state, got %s", launch.State)
	}
	if launch.ExitCode == nil || *launch.ExitCode != 7 {
		t.Errorf("Expected journaled exit code 7, got %v", launch.ExitCode)
	}

	snap := ui.snapshot()
	if len(snap.errorTitles) != 1 {
		t.Fatalf("Expected exactly one error dialog, got %d", len(snap.errorTitles))
	}
	if snap.errorTitles[0] != ErrorDialogTitle {
		t.Errorf("Unexpected dialog title: %s", snap.errorTitles[0])
	}
	if snap.revealed != 0 {
		t.Error("Main surface must not be revealed on failure")
	}
}

func TestRunFailsOnReadinessTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l, ui, cleanup := setupTestLauncher(t, markerScript, srv.URL, 3)
	defer cleanup()

	err := l.Run(context.Background())
	if err == nil {
		t.Fatal("Expected launch to fail on readiness timeout")
	}

	var timeoutErr *probe.ReadinessTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected ReadinessTimeout, got %T: %v", err, err)
	}
	if timeoutErr.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", timeoutErr.Attempts)
	}

	launch := l.Current()
	if launch.State != models.LaunchStateFailed {
		t.Errorf("Expected failed state, got %s", launch.State)
	}

	if snap := ui.snapshot(); len(snap.errorTitles) != 1 {
		t.Errorf("Expected exactly one error dialog, got %d", len(snap.errorTitles))
	}
}

func TestFailedRunStopsBackend(t *testing.T) {
	// Backend never answers 200, so the launch fails after the probe budget;
	// the spawned process must be torn down, not left behind the error page.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l, _, cleanup := setupTestLauncher(t, markerScript, srv.URL, 2)
	defer cleanup()

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("Expected launch to fail")
	}

	handle := l.Handle()
	if handle == nil {
		t.Fatal("Expected a spawned backend handle")
	}

	// Grace period is 2s; the sh backend exits on the graceful TERM long
	// before the escalation.
	waitCtx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	if err := handle.Wait(waitCtx); err != nil {
		t.Fatalf("Backend still running after failed launch: %v", err)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l, _, cleanup := setupTestLauncher(t, markerScript, srv.URL, 5)
	defer cleanup()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Expected launch to succeed, got %v", err)
	}

	var kinds []models.EventKind
drain:
	for {
		select {
		case ev := <-l.Events():
			kinds = append(kinds, ev.Kind)
		default:
			break drain
		}
	}

	want := []models.EventKind{models.EventProcessStarted, models.EventProbeSucceeded, models.EventContentLoaded}
	idx := 0
	for _, k := range kinds {
		if idx < len(want) && k == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Errorf("Expected events %v in order, got %v", want, kinds)
	}
}

func TestLaunchLifecycleLogging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l, _, cleanup := setupTestLauncher(t, markerScript, srv.URL, 5)
	defer cleanup()

	buf, restore := captureStdLogger(t)
	defer restore()

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Expected launch to succeed, got %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "launch_event=received") {
		t.Fatalf("Expected received log entry, got:\n%s", out)
	}
	if !strings.Contains(out, "launch_id=launch-") {
		t.Fatalf("Expected launch_id in logs, got:\n%s", out)
	}
	if !strings.Contains(out, "state=starting") {
		t.Fatalf("Expected starting state in logs, got:\n%s", out)
	}
	if !strings.Contains(out, "launch_event=ready") {
		t.Fatalf("Expected ready log entry, got:\n%s", out)
	}
}

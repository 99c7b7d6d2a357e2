// Package launcher coordinates the startup chain of the desktop application:
// spawn the backend, poll it until ready, load it into the main surface, and
// tear everything down on exit.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/factudesk/factudesk/internal/backend"
	"github.com/factudesk/factudesk/internal/config"
	"github.com/factudesk/factudesk/internal/interp"
	"github.com/factudesk/factudesk/internal/probe"
	"github.com/factudesk/factudesk/internal/shell"
	"github.com/factudesk/factudesk/internal/shutdown"
	"github.com/factudesk/factudesk/internal/store"
	"github.com/factudesk/factudesk/pkg/models"
)

// Fixed error dialog contents: every unrecoverable startup failure shows this
// once, with the underlying error as detail.
const (
	ErrorDialogTitle   = "Facturation could not start"
	ErrorDialogMessage = "The billing backend failed to start. Close the application and try again."
)

// Launcher is the application-lifecycle context: it owns the single backend
// process handle and the surface manager, and drives the launch state machine.
type Launcher struct {
	cfg         *config.Config
	store       store.Store
	supervisor  *backend.Supervisor
	poller      *probe.Poller
	surfaces    *shell.Manager
	coordinator *shutdown.Coordinator
	events      chan models.Event

	// spawn context is deliberately detached from Run's context: cancelling a
	// CommandContext kills the child outright, which would bypass the
	// coordinator's terminate-then-grace escalation.
	spawnCtx context.Context

	mu      sync.Mutex
	handle  *backend.Handle
	current *models.Launch
}

// New creates a launcher from configuration. The ui argument is the concrete
// surface backend (status server in production, a fake in tests).
func New(cfg *config.Config, ui shell.UI) (*Launcher, error) {
	fileStore, err := store.NewFileStore(cfg.Launcher.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create launch store: %w", err)
	}

	locator := interp.NewLocator(cfg.Backend.Interpreters, time.Duration(cfg.Backend.VersionTimeout))

	supervisor := backend.NewSupervisor(backend.Config{
		Interpreter:    cfg.Backend.Interpreter,
		Args:           cfg.Backend.Args,
		Locator:        locator,
		Host:           cfg.Backend.Host,
		Port:           cfg.Backend.Port,
		WorkDir:        cfg.Backend.WorkDir,
		SettingsModule: cfg.Backend.SettingsModule,
		LogDir:         cfg.Launcher.LogDir,
		MarkerSettle:   time.Duration(cfg.Backend.MarkerSettle),
		SpawnTimeout:   time.Duration(cfg.Backend.SpawnTimeout),
	})

	poller := probe.NewPoller(
		cfg.Probe.MaxAttempts,
		time.Duration(cfg.Probe.Interval),
		time.Duration(cfg.Probe.RequestTimeout),
		time.Duration(cfg.Probe.PostReadyDelay),
	)

	return &Launcher{
		cfg:         cfg,
		store:       fileStore,
		supervisor:  supervisor,
		poller:      poller,
		surfaces:    shell.NewManager(ui, time.Duration(cfg.Shell.RevealDelay)),
		coordinator: shutdown.NewCoordinator(time.Duration(cfg.Launcher.GracePeriod)),
		events:      make(chan models.Event, 16),
		spawnCtx:    context.Background(),
	}, nil
}

// Events returns the lifecycle event stream. Events are dropped rather than
// blocking the coordinator when nobody listens.
func (l *Launcher) Events() <-chan models.Event {
	return l.events
}

// Run executes the full startup chain: spawn → ready → content loaded →
// surface revealed. Either the whole chain completes or the user sees exactly
// one error dialog and Run returns a non-nil error.
func (l *Launcher) Run(ctx context.Context) error {
	launch := &models.Launch{
		ID:         generateID(),
		State:      models.LaunchStateNotStarted,
		Port:       l.cfg.Backend.Port,
		BackendURL: l.cfg.BackendURL(),
		CreatedAt:  time.Now(),
	}
	l.setCurrent(launch)
	l.store.Save(launch)
	logLaunchReceived(launch)

	l.surfaces.Begin()

	// Spawn
	l.transition(launch, models.LaunchStateStarting)
	handle, info, err := l.supervisor.Start(l.spawnCtx, launch.ID)
	launch.Interpreter = info.Interpreter
	launch.LogFile = info.LogFile
	if err != nil {
		if spawnErr, ok := asSpawnError(err); ok {
			launch.ExitCode = &spawnErr.ExitCode
		}
		return l.fail(launch, err)
	}

	l.setHandle(handle)
	now := time.Now()
	launch.StartedAt = &now
	launch.PID = handle.PID()
	l.store.Save(launch)
	l.publish(models.Event{Kind: models.EventProcessStarted, LaunchID: launch.ID, PID: handle.PID(), At: now})
	go l.watchExit(launch, handle)

	// Probe
	l.transition(launch, models.LaunchStateProbing)
	attempts, err := l.poller.WaitUntilReady(ctx, launch.BackendURL)
	launch.Attempts = attempts
	if err != nil {
		return l.fail(launch, err)
	}
	l.publish(models.Event{Kind: models.EventProbeSucceeded, LaunchID: launch.ID, Attempts: attempts, At: time.Now()})

	// Load content into the main surface
	l.surfaces.Attach(launch.BackendURL)
	if err := l.loadContent(ctx, launch.BackendURL); err != nil {
		loadErr := l.surfaces.ContentFailed(err.Error())
		l.publish(models.Event{Kind: models.EventContentFailed, LaunchID: launch.ID, Error: err.Error(), At: time.Now()})
		return l.fail(launch, loadErr)
	}
	l.publish(models.Event{Kind: models.EventContentLoaded, LaunchID: launch.ID, At: time.Now()})
	l.surfaces.ContentLoaded()

	// Ready
	ready := time.Now()
	launch.ReadyAt = &ready
	l.transition(launch, models.LaunchStateReady)
	l.store.Prune(l.cfg.Launcher.HistoryLimit)

	return nil
}

// loadContent performs the single content fetch that stands in for the main
// surface's "finished loading" event.
func (l *Launcher) loadContent(ctx context.Context, url string) error {
	client := &http.Client{Timeout: time.Duration(l.cfg.Probe.RequestTimeout)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend answered %d", resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("backend content read failed: %w", err)
	}
	return nil
}

func (l *Launcher) watchExit(launch *models.Launch, handle *backend.Handle) {
	<-handle.Done()
	code, _ := handle.ExitCode()
	logBackendExited(launch, code)
	l.publish(models.Event{Kind: models.EventProcessExited, LaunchID: launch.ID, PID: handle.PID(), ExitCode: &code, At: time.Now()})
}

func (l *Launcher) fail(launch *models.Launch, err error) error {
	launch.Error = err.Error()
	now := time.Now()
	launch.CompletedAt = &now
	l.transition(launch, models.LaunchStateFailed)

	l.surfaces.FailStartup(ErrorDialogTitle, ErrorDialogMessage, err.Error())

	// The launch attempt is over; a backend that made it past spawn must not
	// be left running behind the error surface.
	l.coordinator.Stop(l.Handle())
	return err
}

func (l *Launcher) transition(launch *models.Launch, state models.LaunchState) {
	launch.State = state
	l.store.Save(launch)
	logLaunchState(launch)
}

func (l *Launcher) publish(ev models.Event) {
	select {
	case l.events <- ev:
	default:
	}
}

// Shutdown tears the application down: graceful terminate of the backend with
// kill escalation, then store flush. Fire-and-forget on the process side.
func (l *Launcher) Shutdown() {
	l.coordinator.Stop(l.Handle())
	l.store.Close()
}

// Handle returns the backend process handle, or nil before spawn.
func (l *Launcher) Handle() *backend.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

// Surfaces exposes the surface manager (the status server consults it).
func (l *Launcher) Surfaces() *shell.Manager {
	return l.surfaces
}

// Current returns a copy of the current launch record.
func (l *Launcher) Current() models.Launch {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return models.Launch{State: models.LaunchStateNotStarted}
	}
	return *l.current
}

// History lists past launches, newest first.
func (l *Launcher) History(limit int) ([]*models.Launch, error) {
	return l.store.List(store.ListFilter{Limit: limit})
}

// Lookup returns a past launch by ID.
func (l *Launcher) Lookup(id string) (*models.Launch, error) {
	return l.store.Get(id)
}

// Journal persists a launch record without driving it through the state
// machine.
func (l *Launcher) Journal(launch *models.Launch) error {
	return l.store.Save(launch)
}

func (l *Launcher) setCurrent(launch *models.Launch) {
	l.mu.Lock()
	l.current = launch
	l.mu.Unlock()
}

func (l *Launcher) setHandle(h *backend.Handle) {
	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()
}

func generateID() string {
	return fmt.Sprintf("launch-%s", uuid.New().String()[:8])
}

func asSpawnError(err error) (*backend.SpawnError, bool) {
	var spawnErr *backend.SpawnError
	if errors.As(err, &spawnErr) {
		return spawnErr, true
	}
	return nil, false
}

// Package shell manages the desktop surfaces of the launcher: the splash
// surface shown at startup and the main surface that displays the backend.
package shell

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/factudesk/factudesk/pkg/models"
)

// ContentLoadFailure reports that the main surface failed to load the backend
// root. It is fatal for the launch attempt.
type ContentLoadFailure struct {
	URL    string
	Reason string
}

func (e *ContentLoadFailure) Error() string {
	return fmt.Sprintf("main surface failed to load %s: %s", e.URL, e.Reason)
}

// UI is the concrete surface backend the manager drives. The production
// implementation is the local status server (internal/server); tests use a
// recording fake.
type UI interface {
	ShowSplash()
	AttachMain(url string)
	RevealMain()
	DestroySplash()
	ShowError(title, message, detail string)
}

// Manager owns the surface state machine. The splash surface's lifetime is a
// strict subset of [Begin, reveal]; the main surface is revealed exactly once.
type Manager struct {
	ui          UI
	revealDelay time.Duration

	mu          sync.Mutex
	splash      models.SurfaceState
	main        models.SurfaceState
	backendURL  string
	popupDenied int

	revealOnce sync.Once
	errorOnce  sync.Once
}

// NewManager creates a surface manager over the given UI backend.
func NewManager(ui UI, revealDelay time.Duration) *Manager {
	return &Manager{
		ui:          ui,
		revealDelay: revealDelay,
		splash:      models.SurfaceClosed,
		main:        models.SurfaceClosed,
	}
}

// Begin shows the splash surface immediately at launch.
func (m *Manager) Begin() {
	m.mu.Lock()
	m.splash = models.SurfaceSplash
	m.mu.Unlock()

	m.ui.ShowSplash()
	log.Printf("shell_event=splash_shown")
}

// Attach points the hidden main surface at the backend root URL.
func (m *Manager) Attach(url string) {
	m.mu.Lock()
	m.main = models.SurfaceLoading
	m.backendURL = url
	m.mu.Unlock()

	m.ui.AttachMain(url)
	log.Printf("shell_event=main_attached url=%q", url)
}

// ContentLoaded handles the main surface's "finished loading" event: after
// the fixed settle delay it reveals the main surface and destroys the splash,
// exactly once. Repeat calls are no-ops.
func (m *Manager) ContentLoaded() {
	m.revealOnce.Do(func() {
		if m.revealDelay > 0 {
			time.Sleep(m.revealDelay)
		}

		m.mu.Lock()
		m.main = models.SurfaceReady
		m.splash = models.SurfaceClosed
		m.mu.Unlock()

		m.ui.RevealMain()
		m.ui.DestroySplash()
		log.Printf("shell_event=main_revealed")
	})
}

// ContentFailed handles a failed content load. It returns the fatal error the
// coordinator surfaces; nothing is revealed.
func (m *Manager) ContentFailed(reason string) error {
	m.mu.Lock()
	url := m.backendURL
	m.main = models.SurfaceClosed
	m.mu.Unlock()

	log.Printf("shell_event=content_failed url=%q reason=%q", url, reason)
	return &ContentLoadFailure{URL: url, Reason: reason}
}

// OpenWindow intercepts requests to open secondary top-level windows from
// within loaded content. The launcher never spawns them.
func (m *Manager) OpenWindow(target string) bool {
	m.mu.Lock()
	m.popupDenied++
	m.mu.Unlock()

	log.Printf("shell_event=popup_denied target=%q", target)
	return false
}

// FailStartup shows the fatal error dialog exactly once and closes the splash
// surface. All unrecoverable startup failures route through here.
func (m *Manager) FailStartup(title, message, detail string) {
	m.errorOnce.Do(func() {
		m.mu.Lock()
		m.splash = models.SurfaceClosed
		m.main = models.SurfaceClosed
		m.mu.Unlock()

		m.ui.ShowError(title, message, detail)
		log.Printf("shell_event=error_dialog title=%q detail=%q", title, detail)
	})
}

// SplashState returns the splash surface state.
func (m *Manager) SplashState() models.SurfaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.splash
}

// MainState returns the main surface state.
func (m *Manager) MainState() models.SurfaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.main
}

// Revealed reports whether the main surface has been revealed.
func (m *Manager) Revealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.main == models.SurfaceReady
}

// PopupDenied returns how many secondary-window requests were suppressed.
func (m *Manager) PopupDenied() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popupDenied
}

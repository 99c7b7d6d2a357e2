// Package server implements the local shell surface: the splash page shown
// while the backend boots, the error page on fatal startup failures, and a
// small status API over the launch journal.
package server

import (
	"context"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/factudesk/factudesk/internal/config"
	"github.com/factudesk/factudesk/internal/launcher"
	"github.com/factudesk/factudesk/internal/shell"
)

// Server is the shell surface HTTP server. It doubles as the concrete UI
// backend for the surface manager: surface calls mutate what the root page
// renders, and RevealMain hands the user over to the backend.
type Server struct {
	cfg        *config.Config
	addr       string
	version    string
	commit     string
	httpServer *http.Server

	// openBrowser controls whether RevealMain launches the system browser.
	// Tests leave it off.
	openBrowser bool

	quitCh   chan struct{}
	quitOnce sync.Once

	mu        sync.Mutex
	launcher  *launcher.Launcher
	mainURL   string
	revealed  bool
	failed    bool
	errTitle  string
	errMsg    string
	errDetail string

	uiOnce   sync.Once
	uiTpl    *template.Template
	uiTplErr error
}

// Config holds server configuration.
type Config struct {
	Addr        string
	Version     string
	Commit      string
	OpenBrowser bool
	AppConfig   *config.Config
}

// New creates the shell surface server. The launcher is attached afterwards
// with SetLauncher: the server must exist first because it is the launcher's
// surface backend.
func New(cfg Config) *Server {
	s := &Server{
		cfg:         cfg.AppConfig,
		addr:        cfg.Addr,
		version:     cfg.Version,
		commit:      cfg.Commit,
		openBrowser: cfg.OpenBrowser,
		quitCh:      make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.newGinEngine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// SetLauncher attaches the launch coordinator the status API reads from.
func (s *Server) SetLauncher(l *launcher.Launcher) {
	s.mu.Lock()
	s.launcher = l
	s.mu.Unlock()
}

// QuitRequests returns a channel closed when the user asks the application to
// exit from the error surface.
func (s *Server) QuitRequests() <-chan struct{} {
	return s.quitCh
}

func (s *Server) requestQuit() {
	s.quitOnce.Do(func() { close(s.quitCh) })
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("ui_event=listening addr=%s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ShowSplash implements shell.UI. The splash page is what the root route
// serves until the main surface is revealed, so there is nothing to create.
func (s *Server) ShowSplash() {
	log.Printf("ui_event=splash_shown addr=%s", s.addr)
}

// AttachMain implements shell.UI.
func (s *Server) AttachMain(url string) {
	s.mu.Lock()
	s.mainURL = url
	s.mu.Unlock()
	log.Printf("ui_event=main_attached url=%q", url)
}

// RevealMain implements shell.UI: from here on the root route redirects to
// the backend, and the system browser is pointed at it.
func (s *Server) RevealMain() {
	s.mu.Lock()
	s.revealed = true
	url := s.mainURL
	open := s.openBrowser
	s.mu.Unlock()

	log.Printf("ui_event=main_revealed url=%q", url)
	if open && url != "" {
		shell.OpenBrowser(url)
	}
}

// DestroySplash implements shell.UI.
func (s *Server) DestroySplash() {
	log.Printf("ui_event=splash_destroyed")
}

// ShowError implements shell.UI: the root route switches to the error page.
func (s *Server) ShowError(title, message, detail string) {
	s.mu.Lock()
	s.failed = true
	s.errTitle = title
	s.errMsg = message
	s.errDetail = detail
	s.mu.Unlock()

	log.Printf("ui_event=error_shown title=%q detail=%q", title, detail)
}

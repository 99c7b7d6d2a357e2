package server

import (
	"bytes"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/factudesk/factudesk/internal/launcher"
	"github.com/factudesk/factudesk/pkg/models"
	uiassets "github.com/factudesk/factudesk/ui"
)

type splashVM struct {
	StateText string
}

type errorVM struct {
	Title   string
	Message string
	Detail  string
}

func (s *Server) newGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.POST("/quit", s.handleQuit)

	api := r.Group("/api")
	{
		api.GET("/version", s.handleAPIVersion)
		api.GET("/status", s.handleAPIStatus)
		api.GET("/launches", s.handleAPILaunchesList)
		api.GET("/launches/:id", s.handleAPILaunchGet)
		api.GET("/launches/:id/log", s.handleAPILaunchLog)
	}

	return r
}

func (s *Server) getUITemplates() (*template.Template, error) {
	s.uiOnce.Do(func() {
		s.uiTpl, s.uiTplErr = template.ParseFS(fs.FS(uiassets.FS), "*.html")
	})
	return s.uiTpl, s.uiTplErr
}

// handleRoot serves whichever surface the launch is in: the error page after
// a fatal failure, a redirect to the backend once revealed, the splash page
// otherwise.
func (s *Server) handleRoot(c *gin.Context) {
	s.mu.Lock()
	failed := s.failed
	revealed := s.revealed
	mainURL := s.mainURL
	vm := errorVM{Title: s.errTitle, Message: s.errMsg, Detail: s.errDetail}
	s.mu.Unlock()

	if failed {
		s.renderTemplate(c, "error.html", vm)
		return
	}
	if revealed && mainURL != "" {
		c.Redirect(http.StatusFound, mainURL)
		return
	}
	s.renderTemplate(c, "splash.html", splashVM{StateText: s.stateText()})
}

// renderTemplate renders into a buffer first so an execution failure can
// still produce a clean 500 instead of a half-written page.
func (s *Server) renderTemplate(c *gin.Context, name string, vm interface{}) {
	tpl, err := s.getUITemplates()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, name, vm); err != nil {
		log.Printf("ui_event=render_failed template=%q error=%q", name, err.Error())
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) stateText() string {
	l := s.currentLauncher()
	if l == nil {
		return "Iniciando..."
	}
	switch l.Current().State {
	case models.LaunchStateStarting:
		return "Arrancando el servidor..."
	case models.LaunchStateProbing:
		return "Esperando al servidor..."
	case models.LaunchStateReady:
		return "Listo"
	default:
		return "Iniciando..."
	}
}

// handleQuit is what the error surface's close action posts to; dismissing
// the error ends the application, as closing the dialog would.
func (s *Server) handleQuit(c *gin.Context) {
	s.requestQuit()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	state := models.LaunchStateNotStarted
	if l := s.currentLauncher(); l != nil {
		state = l.Current().State
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"state":  state,
	})
}

func (s *Server) handleAPIVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"commit":  s.commit,
	})
}

func (s *Server) handleAPIStatus(c *gin.Context) {
	l := s.currentLauncher()
	if l == nil {
		c.JSON(http.StatusOK, gin.H{"state": models.LaunchStateNotStarted})
		return
	}

	launch := l.Current()
	surfaces := l.Surfaces()
	c.JSON(http.StatusOK, gin.H{
		"launch":       launch.ToSummary(),
		"state":        launch.State,
		"splash":       surfaces.SplashState(),
		"main":         surfaces.MainState(),
		"revealed":     surfaces.Revealed(),
		"popup_denied": surfaces.PopupDenied(),
	})
}

func (s *Server) handleAPILaunchesList(c *gin.Context) {
	l := s.currentLauncher()
	if l == nil {
		c.JSON(http.StatusOK, gin.H{"launches": []models.LaunchSummary{}})
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = v
	}

	launches, err := l.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]models.LaunchSummary, 0, len(launches))
	for _, launch := range launches {
		items = append(items, launch.ToSummary())
	}
	c.JSON(http.StatusOK, gin.H{"launches": items})
}

func (s *Server) handleAPILaunchGet(c *gin.Context) {
	l := s.currentLauncher()
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "launch not found"})
		return
	}

	launch, err := l.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "launch not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"launch": launch})
}

func (s *Server) handleAPILaunchLog(c *gin.Context) {
	l := s.currentLauncher()
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "launch not found"})
		return
	}

	launch, err := l.Lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "launch not found"})
		return
	}
	if launch.LogFile == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "log not available"})
		return
	}

	offset := int64(0)
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		offset = v
	}

	data, nextOffset, truncated, err := readLogChunk(launch.LogFile, offset, 64*1024)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content":     string(data),
		"next_offset": nextOffset,
		"truncated":   truncated,
	})
}

func (s *Server) currentLauncher() *launcher.Launcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launcher
}

func readLogChunk(path string, offset, max int64) ([]byte, int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, false, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, offset, false, err
	}

	size := st.Size()
	start := offset
	truncated := false

	if start < 0 {
		start = 0
	}
	if start > size {
		start = size
	}

	// If starting from 0 and file is very large, return a tail window.
	if start == 0 && size > max {
		start = size - max
		truncated = true
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, start, false, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, start, false, err
	}

	if max > 0 && int64(len(data)) > max {
		data = data[:max]
		truncated = true
	}

	nextOffset := start + int64(len(data))
	return data, nextOffset, truncated, nil
}

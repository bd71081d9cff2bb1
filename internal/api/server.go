package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/FocusMirror/internal/config"
	"github.com/bryanchriswhite/FocusMirror/internal/effects"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/output"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/session"
)

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     session.Deps
	defaults config.Config
	preview  *output.MJPEGOutput
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new API server. Sessions created through the API use
// deps and fall back to defaults for omitted fields. preview may be nil.
func NewServer(deps session.Deps, defaults config.Config, preview *output.MJPEGOutput) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		deps:     deps,
		defaults: defaults,
		preview:  preview,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/windows", s.handleListWindows).Methods("GET")

	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/session", s.handleDestroySession).Methods("DELETE")
	api.HandleFunc("/session/events", s.handleSessionEvents)

	if s.preview != nil {
		api.HandleFunc("/preview", s.preview.StatsHandler()).Methods("GET")
		s.router.HandleFunc("/stream", s.preview.StreamHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot.jpg", s.preview.SnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/viewer", s.preview.ViewerHandler()).Methods("GET")
		s.router.Handle("/", http.RedirectHandler("/viewer", http.StatusFound))
	}
}

// Handler returns the router wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Int("port", port).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// invoke runs fn on the platform loop thread.
func (s *Server) invoke(w http.ResponseWriter, fn func()) bool {
	if err := s.deps.Backend.Invoke(fn); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return false
	}
	return true
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backend": s.deps.Backend.Name(),
		"session": session.Active(),
	})
}

func (s *Server) handleListWindows(w http.ResponseWriter, r *http.Request) {
	var (
		list []platform.WindowInfo
		err  error
	)
	if !s.invoke(w, func() { list, err = s.deps.Backend.ListWindows() }) {
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.CurrentStatus())
}

// CreateRequest is the body of POST /api/session. Omitted fields take the
// configured defaults; Foreground mirrors the focused window instead of
// Window.
type CreateRequest struct {
	Window     uint64  `json:"window"`
	Foreground bool    `json:"foreground"`
	FrameRate  *uint32 `json:"frame_rate"`
	Effects    *string `json:"effects"`
	NoDisturb  *bool   `json:"no_disturb"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	opts := session.Options{
		Source:    platform.Handle(req.Window),
		FrameRate: s.defaults.FrameRate,
		Effects:   s.defaults.Effects,
		NoDisturb: s.defaults.NoDisturb,
	}
	if req.FrameRate != nil {
		opts.FrameRate = *req.FrameRate
	}
	if req.Effects != nil {
		opts.Effects = *req.Effects
	}
	if req.NoDisturb != nil {
		opts.NoDisturb = *req.NoDisturb
	}

	var (
		status session.Status
		err    error
	)
	ok := s.invoke(w, func() {
		if req.Foreground {
			fg, fgErr := s.deps.Backend.ForegroundWindow()
			if fgErr != nil {
				err = fmt.Errorf("%w: no foreground window", session.ErrInvalidSourceWindow)
				return
			}
			opts.Source = fg
		}
		var sess *session.Session
		sess, err = session.Create(s.deps, opts)
		if err == nil {
			status = sess.Status()
		}
	})
	if !ok {
		return
	}
	if err != nil {
		writeError(w, createErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func createErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidFrameRate),
		errors.Is(err, session.ErrInvalidSourceWindow),
		errors.Is(err, effects.ErrUnknownEffect),
		errors.Is(err, effects.ErrBadDescriptor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	var status session.Status
	found := false
	ok := s.invoke(w, func() {
		if cur := session.Current(); cur != nil {
			cur.Destroy()
			status = cur.Status()
			found = true
		}
	})
	if !ok {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, session.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	// Subscribed before the handshake completes so a connected client never
	// misses an event.
	events := session.Subscribe()
	defer session.Unsubscribe(events)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if st := session.CurrentStatus(); st.Active {
		hello := session.Event{
			Type:      session.EventStarted,
			Source:    st.Source,
			FrameRate: st.FrameRate,
			Time:      st.Started,
		}
		if err := conn.WriteJSON(hello); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

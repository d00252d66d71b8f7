package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aegntic/termvisor/internal/bridge"
	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/config"
	"github.com/aegntic/termvisor/internal/integration"
	"github.com/aegntic/termvisor/internal/project"
	"github.com/aegntic/termvisor/internal/resource"
	"github.com/aegntic/termvisor/internal/terminal"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server hosts the terminal/project/capability/bridge command surface
// (spec.md §6) as HTTP+WS routes, exactly as the teacher's server routed
// /api/sessions, /ws, etc.
type Server struct {
	config          *config.Config
	pool            *terminal.Pool
	broadcaster     *Broadcaster
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string

	detector *project.Detector
	manager  *capability.Manager
	binder   *integration.Binder
	bridge   *bridge.Bridge
	monitor  *resource.Monitor
}

func NewServer(cfg *config.Config, pool *terminal.Pool, broadcaster *Broadcaster, frontendDir string, dev bool, embeddedHandler http.Handler, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		config:          cfg,
		pool:            pool,
		broadcaster:     broadcaster,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetProjectDetector wires the analyze_project route. Must be called before
// SetupRoutes.
func (s *Server) SetProjectDetector(d *project.Detector) { s.detector = d }

// SetCapabilityManager wires the get_capabilities route.
func (s *Server) SetCapabilityManager(m *capability.Manager) { s.manager = m }

// SetBinder wires per-session project/capability binding lookups used by
// get_capabilities and process_ai_command.
func (s *Server) SetBinder(b *integration.Binder) { s.binder = b }

// SetBridge wires the process_ai_command route.
func (s *Server) SetBridge(br *bridge.Bridge) { s.bridge = br }

// SetResourceMonitor wires the queue_stats route's terminal-count fallback.
func (s *Server) SetResourceMonitor(m *resource.Monitor) { s.monitor = m }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/terminals", s.handleTerminals)
	mux.HandleFunc("/api/terminals/", s.handleTerminalRoutes)
	mux.HandleFunc("/api/projects/analyze", s.handleAnalyzeProject)
	mux.HandleFunc("/api/capabilities", s.handleCapabilities)
	mux.HandleFunc("/api/ai-command", s.handleAICommand)
	mux.HandleFunc("/api/queues/", s.handleQueueStats)
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.dev {
		log.Printf("Serving frontend from filesystem: %s", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		log.Println("Serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

// securityHeaders wraps a handler with the baseline response headers every
// route should carry, mirroring the teacher's defense-in-depth posture for
// a command surface that accepts remote input.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; connect-src 'self' ws: wss:; style-src 'self' 'unsafe-inline'; img-src 'self' data:; object-src 'none'; base-uri 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("ws client rejected: %v", err)
		return
	}

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

type spawnSessionRequest struct {
	WorkingDir string `json:"working_dir"`
	Title      string `json:"title"`
}

// handleTerminals implements list_sessions (GET) and spawn_session (POST).
func (s *Server) handleTerminals(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if s.pool == nil {
			http.Error(w, "terminal pool not available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		descriptors := s.broadcaster.FilterTerminals(s.pool.ListSessions())
		json.NewEncoder(w).Encode(descriptors)
	case http.MethodPost:
		var req spawnSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if s.pool == nil {
			http.Error(w, "terminal pool not available", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		id, err := s.pool.CreateOrAttach(ctx, req.WorkingDir, req.Title)
		if err != nil {
			writeTerminalError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"session_id": id.String()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTerminalRoutes dispatches /api/terminals/{id}[/action].
func (s *Server) handleTerminalRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/terminals/")
	parts := strings.SplitN(path, "/", 2)
	idStr, err := url.PathUnescape(parts[0])
	if err != nil || idStr == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleTerminalByID(w, r, id)
	case "focus":
		s.handleFocus(w, r, id)
	case "detach":
		s.writeTerminalResult(w, s.pool.Detach(id))
	case "input":
		s.handleSendInput(w, r, id)
	case "opacity":
		s.handleSetOpacity(w, r, id)
	case "move":
		s.handleMove(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleTerminalByID implements attach_session/read_snapshot (GET) and
// terminate_session (DELETE).
func (s *Server) handleTerminalByID(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		desc, err := s.pool.ReadSnapshot(id)
		if err != nil {
			writeTerminalError(w, err)
			return
		}
		filtered := s.broadcaster.FilterTerminals([]*terminal.Descriptor{desc})
		w.Header().Set("Content-Type", "application/json")
		if len(filtered) == 0 {
			json.NewEncoder(w).Encode(desc)
			return
		}
		json.NewEncoder(w).Encode(filtered[0])
	case http.MethodDelete:
		s.writeTerminalResult(w, s.pool.Terminate(id))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type sendInputRequest struct {
	Bytes string `json:"bytes"`
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req sendInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.writeTerminalResult(w, s.pool.SendInput(id, []byte(req.Bytes)))
}

type setOpacityRequest struct {
	Opacity float64 `json:"opacity"`
}

func (s *Server) handleSetOpacity(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req setOpacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.writeTerminalResult(w, s.pool.SetOpacity(id, req.Opacity))
}

type moveRequest struct {
	X, Y, W, H int
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pos := terminal.Position{X: req.X, Y: req.Y, W: req.W, H: req.H}
	s.writeTerminalResult(w, s.pool.Move(id, pos))
}

func (s *Server) writeTerminalResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeTerminalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, terminal.ErrAtCapacity):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, terminal.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, terminal.ErrSpawnFailed), errors.Is(err, terminal.ErrWriteFailed):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleAnalyzeProject implements analyze_project.
func (s *Server) handleAnalyzeProject(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.detector == nil {
		http.Error(w, "project detection not available", http.StatusServiceUnavailable)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}

	analysis, err := s.detector.Analyze(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastProjectAnalysis(ProjectAnalysisPayload{Path: path, Analysis: analysis})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analysis)
}

// handleCapabilities implements get_capabilities for a given session id,
// returning the capabilities currently exposed by its ActiveProjectBinding.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.binder == nil {
		http.Error(w, "capability binding not available", http.StatusServiceUnavailable)
		return
	}

	idStr := r.URL.Query().Get("session_id")
	if idStr == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.allActiveCapabilities())
		return
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	binding := s.binder.Binding(id)
	if binding == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(binding.Capabilities)
}

// allActiveCapabilities reports every capability currently exposed by a
// running capability server instance, across all projects, for callers
// that want the full server-wide surface rather than one session's view.
func (s *Server) allActiveCapabilities() []capability.Capability {
	if s.manager == nil {
		return nil
	}
	var caps []capability.Capability
	for _, inst := range s.manager.AllInstances() {
		if inst.Status() != capability.StatusRunning || inst.Manifest == nil {
			continue
		}
		caps = append(caps, inst.Manifest.Capabilities...)
	}
	return caps
}

type aiCommandRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// handleAICommand implements process_ai_command.
func (s *Server) handleAICommand(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.bridge == nil {
		http.Error(w, "bridge not available", http.StatusServiceUnavailable)
		return
	}

	var req aiCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	var binding *integration.Binding
	var termCtx *integration.Context
	if s.binder != nil {
		binding = s.binder.Binding(id)
		termCtx = s.binder.TerminalContext(id)
	}

	resp := s.bridge.ProcessAICommand(r.Context(), id, req.Text, binding, termCtx)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastAICommandResponse(AICommandResponsePayload{SessionID: req.SessionID, Response: resp})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleQueueStats implements queue_stats (spec.md §6). This server admits
// synchronously and fails fast rather than queuing (spec.md §5), so
// Pending/Delayed always report 0; Total reports current terminal count.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	total := 0
	if s.pool != nil {
		active, idle := s.pool.Counts()
		total = active + idle
	} else if s.monitor != nil {
		snap := s.monitor.Snapshot()
		total = snap.ActiveSessions + snap.IdleSessions
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(QueueStatsPayload{Pending: 0, Delayed: 0, Total: total})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.config)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	desc, err := s.pool.ReadSnapshot(id)
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	if desc.TmuxTarget == "" {
		http.Error(w, "session has no tmux pane", http.StatusConflict)
		return
	}

	if err := terminal.FocusPane(desc.TmuxTarget); err != nil {
		http.Error(w, fmt.Sprintf("tmux focus failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Termvisor-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	if len(s.allowedOrigins) > 0 {
		if origin == "" {
			return false
		}
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// ListenAndServe starts the HTTP server, wrapping mux with securityHeaders.
func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}

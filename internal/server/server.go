package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"helpdesk-chat-client/internal/config"
	"helpdesk-chat-client/internal/db"
	"helpdesk-chat-client/internal/gateway"
	"helpdesk-chat-client/internal/policy"
	"helpdesk-chat-client/internal/session"
	"helpdesk-chat-client/internal/store"
	"helpdesk-chat-client/internal/types"
)

type Server struct {
	router    *chi.Mux
	cfg       config.Config
	pol       policy.Policy
	gw        *gateway.Gateway
	chatStore *store.ChatStore
	sessions  *session.Manager
	database  *db.DB
	callbacks *store.CallbackStore
	archive   *store.TranscriptArchive
	oauth     *agentAuth
	upgrader  websocket.Upgrader
}

func NewServer(cfg config.Config) (*Server, error) {
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	gw := gateway.New(gateway.Options{
		BackendBaseURL:  cfg.BackendBaseURL,
		Timeout:         cfg.BackendTimeout,
		CompletionKey:   cfg.CompletionAPIKey,
		CompletionBase:  cfg.CompletionBaseURL,
		CompletionModel: cfg.CompletionModel,
		System:          pol.System,
		FallbackReply:   pol.FallbackReply,
	})

	chatStore := store.NewChatStore()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Optional Postgres audit store
	var database *db.DB
	var callbacks *store.CallbackStore
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Println("database connection established")
		if err := database.RunMigrations("./migrations"); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		callbacks = store.NewCallbackStore(database)
	} else {
		log.Println("warning: DB_URL not provided, confirmed callbacks are log-only")
	}

	var archive *store.TranscriptArchive
	if cfg.TranscriptDir != "" {
		archive = store.NewTranscriptArchive(cfg.TranscriptDir)
	}

	s := &Server{
		router:    r,
		cfg:       cfg,
		pol:       pol,
		gw:        gw,
		chatStore: chatStore,
		database:  database,
		callbacks: callbacks,
		archive:   archive,
		oauth:     newAgentAuth(cfg, chatStore),
	}
	// Each server owns its upgrader so origin policy never crosses instances.
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.sessions = session.NewManager(func(id string) *session.Session {
		var recorder session.ConfirmationRecorder
		if callbacks != nil {
			recorder = callbacks
		}
		return session.New(session.Config{
			ID:       id,
			Store:    chatStore,
			Backend:  gw,
			Policy:   pol,
			Recorder: recorder,
		})
	})
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	// chat protocol
	s.router.Get("/api/chat/ws", s.handleChatWS)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/chat/confirm", s.handleConfirm)
	s.router.Post("/api/chat/cancel", s.handleCancel)
	s.router.Post("/api/upload", s.handleUpload)
	s.router.Get("/api/messages", s.handleMessages)

	// client login flag
	s.router.Post("/api/login", s.handleLogin)
	s.router.Post("/api/logout", s.handleLogout)

	// agent OAuth boundary
	s.router.Get("/api/auth/status", s.oauth.handleStatus)
	s.router.Get("/api/auth/login", s.oauth.handleLogin)
	s.router.Get("/api/auth/callback", s.oauth.handleCallback)

	// dashboard data plane (proxied to the remote backend)
	s.router.Group(func(r chi.Router) {
		r.Use(s.oauth.requireAgent)
		r.Get("/api/schedules", s.handleListSchedules)
		r.Post("/api/schedules/{id}/status", s.handleUpdateScheduleStatus)
		r.Get("/api/faqs", s.handleListFAQs)
		r.Post("/api/faqs", s.handleAddFAQ)
		r.Get("/api/callbacks/confirmed", s.handleConfirmedCallbacks)
	})
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.database != nil {
		if err := s.database.HealthCheck(); err != nil {
			status["database"] = "unreachable"
		} else {
			status["database"] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sid := getOrCreateSessionID(r, w)
	sess := s.sessions.Get(sid)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
	defer cancel()
	if err := sess.Send(ctx, req.Message); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeChatState(w, sid, sess)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sid := getOrCreateSessionID(r, w)
	sess := s.sessions.Get(sid)
	if err := sess.Confirm(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeChatState(w, sid, sess)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sid := getOrCreateSessionID(r, w)
	sess := s.sessions.Get(sid)
	if err := sess.Cancel(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeChatState(w, sid, sess)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	sid := getOrCreateSessionID(r, w)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required (field 'file')")
		return
	}
	defer file.Close()

	sess := s.sessions.Get(sid)
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
	defer cancel()
	if err := sess.Upload(ctx, header.Filename, header.Header.Get("Content-Type"), file); err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeChatState(w, sid, sess)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sid := getOrCreateSessionID(r, w)
	s.writeChatState(w, sid, s.sessions.Get(sid))
}

// handleLogin sets the client login flag. There is no credential check
// behind it; the real boundary is the agent OAuth on the dashboard routes.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	SetLoginCookie(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"loggedIn": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ClearLoginCookie(w)
	sid := getSessionID(r)
	if sid != "" {
		s.archiveTranscript(sid)
		if sess := s.sessions.Drop(sid); sess != nil {
			s.chatStore.Drop(sid)
		}
		ClearSessionCookie(w)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"loggedIn": false})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.gw.ListSchedules(r.Context())
	if err != nil {
		log.Printf("[dashboard] list schedules: %v", err)
		writeError(w, http.StatusBadGateway, "failed to load schedules from backend")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(schedules)
}

func (s *Server) handleUpdateScheduleStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.gw.UpdateScheduleStatus(r.Context(), id, req.Status, req.Notes); err != nil {
		log.Printf("[dashboard] update schedule %s: %v", id, err)
		writeError(w, http.StatusBadGateway, "failed to update schedule")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *Server) handleListFAQs(w http.ResponseWriter, r *http.Request) {
	faqs, err := s.gw.ListFAQs(r.Context())
	if err != nil {
		log.Printf("[dashboard] list faqs: %v", err)
		writeError(w, http.StatusBadGateway, "failed to load FAQs from backend")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(faqs)
}

func (s *Server) handleAddFAQ(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}
	if err := s.gw.AddFAQ(r.Context(), req.Question, req.Answer); err != nil {
		log.Printf("[dashboard] add faq: %v", err)
		writeError(w, http.StatusBadGateway, "failed to add FAQ")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *Server) handleConfirmedCallbacks(w http.ResponseWriter, r *http.Request) {
	if s.callbacks == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	rows, err := s.callbacks.ListConfirmed(100)
	if err != nil {
		log.Printf("[dashboard] list confirmed callbacks: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load confirmed callbacks")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func (s *Server) writeChatState(w http.ResponseWriter, sid string, sess *session.Session) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Session-Id", sid)
	_ = json.NewEncoder(w).Encode(types.ChatResponse{
		SessionID: sid,
		Messages:  sess.Snapshot(),
		Pending:   sess.PendingOffer(),
	})
}

// writeSessionError maps the session's validation errors onto HTTP codes.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrNotAudio):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNoPendingOffer):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

func (s *Server) archiveTranscript(sid string) {
	if s.archive == nil {
		return
	}
	msgs := s.chatStore.Snapshot(sid)
	if len(msgs) == 0 {
		return
	}
	if err := s.archive.Write(sid, msgs); err != nil {
		log.Printf("[archive] failed to save transcript for %s: %v", sid, err)
	}
}

func newSessionID() string {
	return "s_" + uuid.NewString()
}

// getSessionID retrieves the session id from cookie, header or query.
func getSessionID(r *http.Request) string {
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		return sid
	}
	if sid := r.URL.Query().Get("sessionId"); sid != "" {
		return sid
	}
	return ""
}

// getOrCreateSessionID returns the existing session id or mints a new one,
// setting the cookie either way.
func getOrCreateSessionID(r *http.Request, w http.ResponseWriter) string {
	sid := getSessionID(r)
	if sid == "" {
		sid = newSessionID()
		log.Printf("[session] creating new session: %s for endpoint: %s", sid, r.URL.Path)
	}
	SetSessionCookie(w, sid)
	return sid
}

package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scholaris/console/internal/auth"
	"scholaris/console/internal/clients"
	"scholaris/console/internal/config"
	"scholaris/console/internal/gate"
	"scholaris/console/internal/model"
	"scholaris/console/internal/notify"
	"scholaris/console/internal/session"
)

// SessionCookieName is the one durable client-side key holding the raw
// session token. Absence of the cookie means no session.
const SessionCookieName = "console_token"

// Sessions is the token-to-profile store; satisfied by session.Store.
type Sessions interface {
	Create(ctx context.Context, token string, user model.UserProfile) error
	Resolve(ctx context.Context, token string) (model.UserProfile, error)
	Delete(ctx context.Context, token string) error
}

type Server struct {
	cfg           config.Config
	sessions      Sessions
	notifications *notify.Service
	clients       *clients.Clients
	routes        *gate.Table
	upgrader      websocket.Upgrader
}

func NewServer(cfg config.Config, sessions Sessions, notifications *notify.Service, backendClients *clients.Clients) *Server {
	return &Server{
		cfg:           cfg,
		sessions:      sessions,
		notifications: notifications,
		clients:       backendClients,
		routes:        gate.NewTable(gate.DefaultRules()),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware).Get("/api/notifications", s.handleListNotifications)
	r.With(s.authMiddleware).Post("/api/notifications/read-all", s.handleMarkAllRead)

	r.Get("/ws/notifications", s.handleNotificationSocket)

	r.With(s.requireServiceToken).Post("/internal/notifications", s.handleInternalNotification)

	r.Get("/login", s.handleLoginPage)
	r.Get("/unauthorized", s.handleUnauthorizedPage)
	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		for _, rule := range gate.DefaultRules() {
			r.Get(rule.Path, s.handleConsoleView)
			r.Get(rule.Path+"/*", s.handleConsoleView)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})

	return r
}

// Auth

type sessionKey struct{}

type sessionState struct {
	snapshot gate.Snapshot
	token    string
}

// sessionMiddleware resolves the request's token into a session snapshot
// without rejecting anything; the gate decides. A store failure (as opposed
// to a bad token or a plain miss) leaves the snapshot unloaded.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := sessionState{snapshot: gate.Snapshot{Loaded: true}}
		if token := requestToken(r); token != "" {
			user, err := s.resolveToken(r.Context(), token)
			switch {
			case err == nil:
				state.snapshot.User = &user
				state.token = token
			case errors.Is(err, session.ErrNoSession), errors.Is(err, auth.ErrInvalidToken):
				// Loaded, no user: the token no longer pairs with a profile.
			default:
				log.Printf("session resolve failed: %v", err)
				state.snapshot.Loaded = false
			}
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware guards JSON API routes: missing or unpaired tokens get 401
// rather than a redirect.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		user, err := s.resolveToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				writeError(w, http.StatusUnauthorized, "session_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		state := sessionState{snapshot: gate.Snapshot{Loaded: true, User: &user}, token: token}
		ctx := context.WithValue(r.Context(), sessionKey{}, state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveToken validates the JWT, then reads the paired profile at call time.
// Both must hold: a well-formed token whose session record is gone is expired.
func (s *Server) resolveToken(ctx context.Context, token string) (model.UserProfile, error) {
	if _, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token); err != nil {
		return model.UserProfile{}, err
	}
	return s.sessions.Resolve(ctx, token)
}

func (s *Server) requireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ServiceAuthToken == "" {
			writeError(w, http.StatusForbidden, "service_auth_not_configured")
			return
		}
		token := strings.TrimSpace(r.Header.Get("X-Service-Token"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_service_token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServiceAuthToken)) != 1 {
			writeError(w, http.StatusForbidden, "invalid_service_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) sessionState {
	value := ctx.Value(sessionKey{})
	state, _ := value.(sessionState)
	return state
}

// Models

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token      string            `json:"token"`
	User       model.UserProfile `json:"user"`
	RedirectTo string            `json:"redirectTo"`
}

type notificationListResponse struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

type internalNotificationRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// Handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.clients.Identity.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, clients.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		log.Printf("identity verify failed: %v", err)
		writeError(w, http.StatusBadGateway, "identity_unavailable")
		return
	}
	if !user.Role.Valid() {
		writeError(w, http.StatusForbidden, "unknown_role")
		return
	}

	token, err := auth.NewSessionToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.SessionTTL, auth.Claims{
		UserID:   user.ID,
		Role:     string(user.Role),
		SchoolID: user.SchoolID,
		BranchID: user.BranchID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	if err := s.sessions.Create(r.Context(), token, user); err != nil {
		log.Printf("session create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:      token,
		User:       user,
		RedirectTo: gate.LandingPath(user.Role),
	})
}

// handleLogout destroys the session pair and synchronously tears down the
// user's notification connection. In-flight requests carrying the old token
// fail on their own once the record is gone.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	if state.snapshot.User == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.sessions.Delete(r.Context(), state.token); err != nil {
		log.Printf("session delete failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.notifications.Hub().CloseUser(state.snapshot.User.ID)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	if state.snapshot.User == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	writeJSON(w, http.StatusOK, state.snapshot.User)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	user := state.snapshot.User
	if user == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	items, err := s.notifications.List(r.Context(), user.ID, limit, offset)
	if err != nil {
		log.Printf("notification list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	unread, err := s.notifications.Unread(r.Context(), user.ID)
	if err != nil {
		log.Printf("unread count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationListResponse{Items: items, Unread: unread})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	state := sessionFromContext(r.Context())
	user := state.snapshot.User
	if user == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.notifications.MarkAllRead(r.Context(), user.ID); err != nil {
		log.Printf("mark all read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotificationSocket upgrades the push channel. The connection is
// correlated by the userId query parameter, which must match the session the
// token resolves to.
func (s *Server) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.resolveToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}
	if userID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	hub := s.notifications.Hub()
	hub.Register(userID, ws)

	// Read pump exists only to notice the peer going away.
	go func() {
		defer hub.Unregister(userID, ws)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleInternalNotification(w http.ResponseWriter, r *http.Request) {
	var req internalNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	stored, err := s.notifications.Accept(r.Context(), model.Notification{
		UserID:    req.UserID,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("notification accept failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// Console views

func (s *Server) handleLoginPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"page": "login"})
}

func (s *Server) handleUnauthorizedPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"page": "unauthorized"})
}

// handleConsoleView applies the gate decision for every protected console
// route. The decision is recomputed on each request from a fresh session
// snapshot, never cached.
func (s *Server) handleConsoleView(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.routes.Lookup(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	state := sessionFromContext(r.Context())

	switch gate.Decide(state.snapshot, rule) {
	case gate.DecisionPending:
		// Session store unavailable: neutral placeholder, no redirect.
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusOK, map[string]string{"page": "loading"})
	case gate.DecisionRedirectLogin:
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case gate.DecisionRedirectUnauthorized:
		http.Redirect(w, r, "/unauthorized", http.StatusSeeOther)
	case gate.DecisionAllow:
		s.renderConsoleView(w, r, state)
	}
}

func (s *Server) renderConsoleView(w http.ResponseWriter, r *http.Request, state sessionState) {
	user := state.snapshot.User
	view := map[string]interface{}{
		"page": r.URL.Path,
		"user": user,
	}
	// Dashboard views carry headline counts; a backend failure degrades the
	// view, it does not fail it.
	if user.SchoolID != "" && strings.HasSuffix(r.URL.Path, "/dashboard") {
		summary, err := s.clients.School.DashboardSummary(r.Context(), state.token, user.SchoolID)
		if err != nil {
			log.Printf("dashboard summary failed: %v", err)
		} else {
			view["summary"] = summary
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// Utilities

func requestToken(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// Package httpapi exposes the request/response surface over REST: account
// signup and login, token refresh and revocation, the user directory, and
// message history queries. Realtime traffic lives in the hub; everything
// here is plain HTTP with Bearer access tokens.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	"github.com/holamess/holamess/internal/server/relay"
	"github.com/holamess/holamess/internal/server/services"
	"github.com/holamess/holamess/internal/wire"
)

// UserAPI is the account/token surface, implemented by services.UserService.
type UserAPI interface {
	Register(ctx context.Context, phone, name, password string) (*models.User, error)
	Login(ctx context.Context, phone, password string, client services.ClientInfo) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, excludeID string) ([]*models.User, error)
	Sessions(ctx context.Context, userID string) ([]*models.Session, error)
}

// MessageAPI is the history surface, implemented by relay.Relay.
type MessageAPI interface {
	FetchConversation(ctx context.Context, a, b string) ([]*wire.MessagePayload, error)
	RecentConversations(ctx context.Context, userID string, limit int) ([]*relay.ConversationView, error)
	MarkRead(ctx context.Context, from relay.Origin, p *wire.MarkReadPayload) (*wire.MarkReadAckPayload, error)
}

// TokenVerifier guards the authenticated routes.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (string, error)
}

// Server is the REST front of the service.
type Server struct {
	address  string
	users    UserAPI
	messages MessageAPI
	verifier TokenVerifier
	logger   logging.Logger
}

func NewServer(cfg *config.Config, users UserAPI, messages MessageAPI, verifier TokenVerifier, l logging.Logger) *Server {
	return &Server{
		address:  cfg.EndpointAddrHTTP,
		users:    users,
		messages: messages,
		verifier: verifier,
		logger:   l.With("module", "httpapi"),
	}
}

// Router builds the route table. Exposed separately so tests can drive it
// through httptest without a socket.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/auth/revoke-all", s.handleRevokeAll).Methods(http.MethodPost)
	authed.HandleFunc("/auth/sessions", s.handleSessions).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/messages/conversation/{otherUserID}", s.handleConversation).Methods(http.MethodGet)
	authed.HandleFunc("/messages/read/{otherUserID}", s.handleMarkRead).Methods(http.MethodPost)
	authed.HandleFunc("/messages/recent", s.handleRecent).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is done, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- helpers ---

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyToken
)

func contextWithAuth(ctx context.Context, userID, token string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID, userID)
	return context.WithValue(ctx, ctxKeyToken, token)
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyToken).(string)
	return t
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error(context.Background(), "response encode failed", "error", err)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation error"})
	case errors.Is(err, common.ErrorAlreadyExists):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
	case errors.Is(err, common.ErrorUnauthorized):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, common.ErrTokenExpired):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token expired", Code: wire.AuthCodeTokenExpired})
	case errors.Is(err, common.ErrSessionRevoked):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session revoked", Code: wire.AuthCodeSessionRevoked})
	case errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrRefreshTokenRevoked):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: wire.AuthCodeTokenInvalid})
	case errors.Is(err, common.ErrorNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, `{"error":"malformed body"}`, http.StatusBadRequest)
		return nil, false
	}
	return &v, true
}

func clientInfo(r *http.Request, device string) services.ClientInfo {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return services.ClientInfo{Device: device, IPAddress: host}
}

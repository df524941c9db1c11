package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/holamess/holamess/internal/server/relay"
	"github.com/holamess/holamess/internal/wire"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		userID, err := s.verifier.VerifyAccess(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := r.Context()
		ctx = contextWithAuth(ctx, userID, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signupRequest struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[signupRequest](w, r)
	if !ok {
		return
	}

	user, err := s.users.Register(r.Context(), req.Phone, req.Name, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, userResponse{
		ID: user.ID, Phone: user.Phone, Name: user.Name, CreatedAt: user.CreatedAt,
	})
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[loginRequest](w, r)
	if !ok {
		return
	}

	pair, err := s.users.Login(r.Context(), req.Phone, req.Password, clientInfo(r, req.Device))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Device       string `json:"device"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[refreshRequest](w, r)
	if !ok {
		return
	}

	pair, err := s.users.Refresh(r.Context(), req.RefreshToken, clientInfo(r, req.Device))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[logoutRequest](w, r)
	if !ok {
		return
	}

	if err := s.users.Logout(r.Context(), tokenFrom(r.Context()), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.users.RevokeAll(r.Context(), userIDFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"device_info"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	Current    bool      `json:"current"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.users.Sessions(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	token := tokenFrom(r.Context())
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			ID:         sess.ID,
			DeviceInfo: sess.DeviceInfo,
			LastActive: sess.LastActive,
			CreatedAt:  sess.CreatedAt,
			Current:    sess.Token == token,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{ID: u.ID, Phone: u.Phone, Name: u.Name, CreatedAt: u.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	other := mux.Vars(r)["otherUserID"]

	msgs, err := s.messages.FetchConversation(r.Context(), userIDFrom(r.Context()), other)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	other := mux.Vars(r)["otherUserID"]
	userID := userIDFrom(r.Context())

	ack, err := s.messages.MarkRead(r.Context(),
		relay.Origin{Identity: userID, Verified: true},
		&wire.MarkReadPayload{UserID: userID, OtherUserID: other})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int64{"updated": ack.Updated})
}

type conversationResponse struct {
	Counterpart string          `json:"counterpart"`
	LastMessage messageResponse `json:"last_message"`
	Unread      int64           `json:"unread"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	views, err := s.messages.RecentConversations(r.Context(), userIDFrom(r.Context()), 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]conversationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, conversationResponse{
			Counterpart: v.Counterpart,
			LastMessage: toMessageResponse(v.LastMessage),
			Unread:      v.Unread,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type callOutcomeResponse struct {
	Status    string    `json:"status"`
	Duration  int64     `json:"duration"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type messageResponse struct {
	ID        string               `json:"id"`
	Sender    string               `json:"sender"`
	Receiver  string               `json:"receiver"`
	Content   string               `json:"content"`
	Read      bool                 `json:"read"`
	Kind      string               `json:"kind"`
	Call      *callOutcomeResponse `json:"call,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

func toMessageResponse(m *wire.MessagePayload) messageResponse {
	out := messageResponse{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Read:      m.Read,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
	}
	if m.Call != nil {
		out.Call = &callOutcomeResponse{
			Status:    m.Call.Status,
			Duration:  m.Call.Duration,
			StartedAt: m.Call.StartedAt,
			EndedAt:   m.Call.EndedAt,
		}
	}
	return out
}

package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/server/auth"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/repositories/repomanager"
)

// AuthService answers one question: is this access token good right now.
// Good means structurally valid, unexpired, and still backed by a session
// row. Logout, eviction, and revoke-all delete the row, so they take effect
// before the JWT itself expires.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	jwtSecret   []byte
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *AuthService {
	return &AuthService{
		db:          db,
		repomanager: m,
		jwtSecret:   []byte(cfg.SecretKey),
	}
}

// VerifyAccess checks the token and returns the user it belongs to.
// Errors distinguish the three failure modes: common.ErrTokenExpired,
// common.ErrInvalidToken, and common.ErrSessionRevoked. The session's
// last_active is touched on success.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (string, error) {
	claims, err := auth.ParseToken(token, auth.TokenTypeAccess, s.jwtSecret)
	if err != nil {
		return "", err
	}

	sessions := s.repomanager.Sessions(s.db)
	session, err := sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrSessionRevoked
		}
		return "", common.ErrorInternal
	}
	if session.UserID != claims.UserID {
		return "", common.ErrInvalidToken
	}

	// Best effort; a failed touch must not fail authentication.
	_ = sessions.Touch(ctx, token)

	return claims.UserID, nil
}

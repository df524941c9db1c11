// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login, and the issuing, refreshing
// and revoking of tokens plus their session records.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/auth"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	"github.com/holamess/holamess/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ClientInfo is what the transport layer knows about the caller, recorded
// against sessions and refresh tokens.
type ClientInfo struct {
	Device    string
	IPAddress string
}

// UserService provides account and token lifecycle operations:
//   - Register: create users
//   - Login: verify credentials, mint tokens, open a session
//   - Refresh: rotate refresh tokens and mint new access tokens
//   - Logout / RevokeAll: close sessions and invalidate tokens
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	refreshSecret                []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	maxSessionsPerUser           int
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		refreshSecret:                []byte(cfg.RefreshSecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		maxSessionsPerUser:           cfg.MaxSessionsPerUser,
	}
}

// Register creates a new user with a bcrypt-hashed password. A duplicate
// phone yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, phone, name, password string) (*models.User, error) {
	if phone == "" || name == "" || password == "" {
		return nil, common.ErrorValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{ID: uuid.NewString(), Phone: phone, Name: name, PasswordHash: hash}
	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("error creating user: %v", err)
	}
	return u, nil
}

// Login verifies the phone/password pair and, on success, opens a session and
// returns a new TokenPair. Unknown phones and bad passwords are
// indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, phone, password string, client ClientInfo) (*TokenPair, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, common.ErrorUnauthorized
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var genErr error
		pair, genErr = s.issueTokens(ctx, user.ID, client, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh validates a refresh token, rotates it transactionally, and returns
// a fresh TokenPair with a new session. A token whose DB record is revoked
// triggers a revoke of every token for the user: presenting a rotated-out
// token means it leaked.
func (s *UserService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*TokenPair, error) {
	claims, err := auth.ParseToken(refreshToken, auth.TokenTypeRefresh, s.refreshSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	repo := s.repomanager.RefreshTokens(s.db)
	record, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %v", err)
	}
	if record.Revoked {
		if _, err := repo.RevokeAllForUser(ctx, claims.UserID); err != nil {
			return nil, fmt.Errorf("error revoking tokens: %v", err)
		}
		return nil, common.ErrRefreshTokenRevoked
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.RefreshTokens(tx)
		if _, err := repoTx.Revoke(ctx, refreshToken); err != nil {
			return fmt.Errorf("error revoking refresh token: %v", err)
		}
		var genErr error
		pair, genErr = s.issueTokens(ctx, claims.UserID, client, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout closes the session bound to accessToken and revokes the presented
// refresh token. Both operations are idempotent.
func (s *UserService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Sessions(tx).DeleteByToken(ctx, accessToken); err != nil {
			return fmt.Errorf("error deleting session: %v", err)
		}
		if refreshToken != "" {
			if _, err := s.repomanager.RefreshTokens(tx).Revoke(ctx, refreshToken); err != nil {
				return fmt.Errorf("error revoking refresh token: %v", err)
			}
		}
		return nil
	})
}

// RevokeAll closes every session of the user and revokes all refresh tokens.
// Connected realtime clients are cut loose on the next revalidation sweep.
func (s *UserService) RevokeAll(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Sessions(tx).DeleteByUser(ctx, userID); err != nil {
			return fmt.Errorf("error deleting sessions: %v", err)
		}
		if _, err := s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("error revoking refresh tokens: %v", err)
		}
		return nil
	})
}

// ListUsers returns the directory of users, excluding the caller.
func (s *UserService) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	return s.repomanager.Users(s.db).List(ctx, excludeID)
}

// Sessions lists the user's open sessions, most recently active first.
func (s *UserService) Sessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.repomanager.Sessions(s.db).ListByUser(ctx, userID)
}

// --- helpers below ---

func (s *UserService) issueTokens(ctx context.Context, userID string, client ClientInfo, tx dbx.DBTX) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, auth.TokenTypeAccess, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := auth.GenerateToken(userID, auth.TokenTypeRefresh, s.refreshSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	device := client.Device
	if device == "" {
		device = "Unknown Device"
	}

	session := &models.Session{ID: uuid.NewString(), UserID: userID, Token: access, DeviceInfo: device}
	sessionRepo := s.repomanager.Sessions(tx)
	if _, err := sessionRepo.Create(ctx, session); err != nil {
		return nil, common.ErrorInternal
	}
	if s.maxSessionsPerUser > 0 {
		if _, err := sessionRepo.EvictOldest(ctx, userID, s.maxSessionsPerUser); err != nil {
			return nil, common.ErrorInternal
		}
	}

	record := &models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		Token:      refresh,
		DeviceInfo: device,
		IPAddress:  client.IPAddress,
		ExpiresAt:  time.Now().Add(s.refreshTokenValidityDuration),
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, record); err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

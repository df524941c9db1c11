package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/auth"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	callsrepo "github.com/holamess/holamess/internal/server/repositories/calls"
	messagesrepo "github.com/holamess/holamess/internal/server/repositories/messages"
	refreshtokensrepo "github.com/holamess/holamess/internal/server/repositories/refreshtokens"
	sessionsrepo "github.com/holamess/holamess/internal/server/repositories/sessions"
	usersrepo "github.com/holamess/holamess/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "k",
		RefreshSecretKey:             "rk",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		MaxSessionsPerUser:           3,
	}
}

type fakeUsersRepo struct {
	createOut *models.User
	createErr error

	getOut *models.User
	getErr error

	listOut []*models.User
	listErr error
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.createOut != nil {
		return f.createOut, nil
	}
	return u, nil
}
func (f *fakeUsersRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}
func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}
func (f *fakeUsersRepo) List(ctx context.Context, excludeID string) ([]*models.User, error) {
	return f.listOut, f.listErr
}

type fakeSessionsRepo struct {
	created   []*models.Session
	createErr error

	findOut *models.Session
	findErr error

	touched []string

	deletedTokens []string
	deleteErr     error

	deletedUsers []string

	evictCalls []int
	evictErr   error

	listOut []*models.Session
}

func (f *fakeSessionsRepo) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, s)
	return s, nil
}
func (f *fakeSessionsRepo) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}
func (f *fakeSessionsRepo) Touch(ctx context.Context, token string) error {
	f.touched = append(f.touched, token)
	return nil
}
func (f *fakeSessionsRepo) DeleteByToken(ctx context.Context, token string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.deletedTokens = append(f.deletedTokens, token)
	return true, nil
}
func (f *fakeSessionsRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	f.deletedUsers = append(f.deletedUsers, userID)
	return 1, nil
}
func (f *fakeSessionsRepo) EvictOldest(ctx context.Context, userID string, keep int) (int64, error) {
	if f.evictErr != nil {
		return 0, f.evictErr
	}
	f.evictCalls = append(f.evictCalls, keep)
	return 0, nil
}
func (f *fakeSessionsRepo) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	return f.listOut, nil
}

type fakeRefreshRepo struct {
	created   []*models.RefreshToken
	createErr error

	findOut *models.RefreshToken
	findErr error

	revoked    []string
	revokedAll []string
}

func (f *fakeRefreshRepo) Create(ctx context.Context, rt *models.RefreshToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, rt)
	return nil
}
func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}
func (f *fakeRefreshRepo) Revoke(ctx context.Context, token string) (bool, error) {
	f.revoked = append(f.revoked, token)
	return true, nil
}
func (f *fakeRefreshRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	f.revokedAll = append(f.revokedAll, userID)
	return 1, nil
}
func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

type fakeRepoManager struct {
	u *fakeUsersRepo
	s *fakeSessionsRepo
	r *fakeRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.s }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	return m.r
}
func (m *fakeRepoManager) Messages(db dbx.DBTX) messagesrepo.Repository { return nil }
func (m *fakeRepoManager) Calls(db dbx.DBTX) callsrepo.Repository       { return nil }

func hashOf(t *testing.T, password string) []byte {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return h
}

// --- tests ---

func TestRegister_Success(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	u, err := svc.Register(context.Background(), "+15550001", "Alice", "pw")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte("pw")) != nil {
		t.Fatal("stored hash does not match password")
	}
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Register(context.Background(), "", "Alice", "pw"); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestRegister_DuplicatePhone(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{createErr: common.ErrorAlreadyExists},
		s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Register(context.Background(), "+15550001", "Alice", "pw"); !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want already-exists error, got %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	user := &models.User{ID: "u-1", Phone: "+15550001", PasswordHash: hashOf(t, "pw")}
	rm := &fakeRepoManager{u: &fakeUsersRepo{getOut: user}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	pair, err := svc.Login(context.Background(), "+15550001", "pw", ClientInfo{Device: "Android"})
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	if len(rm.s.created) != 1 || rm.s.created[0].DeviceInfo != "Android" {
		t.Fatalf("session not created: %+v", rm.s.created)
	}
	if rm.s.created[0].Token != pair.AccessToken {
		t.Fatal("session must be keyed by the access token")
	}
	if len(rm.s.evictCalls) != 1 || rm.s.evictCalls[0] != 3 {
		t.Fatalf("eviction not applied: %+v", rm.s.evictCalls)
	}
	if len(rm.r.created) != 1 || rm.r.created[0].Token != pair.RefreshToken {
		t.Fatalf("refresh token not recorded: %+v", rm.r.created)
	}

	claims, err := auth.ParseToken(pair.AccessToken, auth.TokenTypeAccess, []byte("k"))
	if err != nil || claims.UserID != "u-1" {
		t.Fatalf("bad access token: claims=%+v err=%v", claims, err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	user := &models.User{ID: "u-1", PasswordHash: hashOf(t, "pw")}
	rm := &fakeRepoManager{u: &fakeUsersRepo{getOut: user}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Login(context.Background(), "+15550001", "nope", ClientInfo{}); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

func TestLogin_UnknownPhone(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{getErr: common.ErrorNotFound}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Login(context.Background(), "+15559999", "pw", ClientInfo{}); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want unauthorized, got %v", err)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	refresh, err := auth.GenerateToken("u-1", auth.TokenTypeRefresh, []byte("rk"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	record := &models.RefreshToken{Token: refresh, UserID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{findOut: record}}
	svc := NewUserService(db, rm, testConfig())

	pair, err := svc.Refresh(context.Background(), refresh, ClientInfo{})
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if pair.RefreshToken == refresh {
		t.Fatal("refresh token must rotate")
	}
	if len(rm.r.revoked) != 1 || rm.r.revoked[0] != refresh {
		t.Fatalf("old token not revoked: %+v", rm.r.revoked)
	}
}

func TestRefresh_RevokedTriggersFullRevoke(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	refresh, err := auth.GenerateToken("u-1", auth.TokenTypeRefresh, []byte("rk"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	record := &models.RefreshToken{Token: refresh, UserID: "u-1", Revoked: true, ExpiresAt: time.Now().Add(time.Hour)}
	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{findOut: record}}
	svc := NewUserService(db, rm, testConfig())

	_, err = svc.Refresh(context.Background(), refresh, ClientInfo{})
	if !errors.Is(err, common.ErrRefreshTokenRevoked) {
		t.Fatalf("want refresh-revoked error, got %v", err)
	}
	if len(rm.r.revokedAll) != 1 || rm.r.revokedAll[0] != "u-1" {
		t.Fatalf("expected revoke-all for the user, got %+v", rm.r.revokedAll)
	}
}

func TestRefresh_ExpiredRecord(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	refresh, err := auth.GenerateToken("u-1", auth.TokenTypeRefresh, []byte("rk"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	record := &models.RefreshToken{Token: refresh, UserID: "u-1", ExpiresAt: time.Now().Add(-time.Minute)}
	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{findOut: record}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Refresh(context.Background(), refresh, ClientInfo{}); !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("want refresh-expired error, got %v", err)
	}
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	access, err := auth.GenerateToken("u-1", auth.TokenTypeAccess, []byte("rk"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if _, err := svc.Refresh(context.Background(), access, ClientInfo{}); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want invalid-token error, got %v", err)
	}
}

func TestLogout_DeletesSessionAndRevokesRefresh(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if err := svc.Logout(context.Background(), "acc", "ref"); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if len(rm.s.deletedTokens) != 1 || rm.s.deletedTokens[0] != "acc" {
		t.Fatalf("session not deleted: %+v", rm.s.deletedTokens)
	}
	if len(rm.r.revoked) != 1 || rm.r.revoked[0] != "ref" {
		t.Fatalf("refresh not revoked: %+v", rm.r.revoked)
	}
}

func TestRevokeAll(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}, r: &fakeRefreshRepo{}}
	svc := NewUserService(db, rm, testConfig())

	if err := svc.RevokeAll(context.Background(), "u-1"); err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if len(rm.s.deletedUsers) != 1 || rm.s.deletedUsers[0] != "u-1" {
		t.Fatalf("sessions not deleted: %+v", rm.s.deletedUsers)
	}
	if len(rm.r.revokedAll) != 1 {
		t.Fatalf("refresh tokens not revoked: %+v", rm.r.revokedAll)
	}
}

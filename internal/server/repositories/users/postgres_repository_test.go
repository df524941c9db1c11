package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)INSERT\s+INTO\s+users\s*\(id,\s*phone,\s*name,\s*password_hash\)`

	rows := sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now())
	mock.ExpectQuery(q).
		WithArgs("u-1", "+15550001", "Alice", []byte("hash")).
		WillReturnRows(rows)

	u := &models.User{ID: "u-1", Phone: "+15550001", Name: "Alice", PasswordHash: []byte("hash")}
	got, err := repo.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != "u-1" || got.Phone != "+15550001" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestCreate_DuplicatePhone(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.User{ID: "u-1", Phone: "+15550001"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.User{ID: "u-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByPhone_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+id,\s*phone,\s*name,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+phone\s*=\s*\$1`

	rows := sqlmock.NewRows([]string{"id", "phone", "name", "password_hash", "created_at"}).
		AddRow("u-1", "+15550001", "Alice", []byte("hash"), time.Now())
	mock.ExpectQuery(q).WithArgs("+15550001").WillReturnRows(rows)

	got, err := repo.GetByPhone(context.Background(), "+15550001")
	if err != nil {
		t.Fatalf("GetByPhone error: %v", err)
	}
	if got.ID != "u-1" || got.Name != "Alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByPhone_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*phone`).
		WithArgs("+15559999").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByPhone(context.Background(), "+15559999")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*phone`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestList_ExcludesCaller(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "phone", "name", "created_at"}).
		AddRow("u-2", "+15550002", "Bob", time.Now()).
		AddRow("u-3", "+15550003", "Carol", time.Now())
	mock.ExpectQuery(`(?s)SELECT\s+id,\s*phone,\s*name,\s*created_at\s+FROM\s+users`).
		WithArgs("u-1").
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "u-2" || got[1].Name != "Carol" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {

	query :=
		`INSERT INTO sessions (id, user_id, token, device_info)
         VALUES ($1, $2, $3, $4)
		 RETURNING last_active, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		session.ID, session.UserID, session.Token, session.DeviceInfo).
		Scan(&session.LastActive, &session.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	query :=
		`SELECT id, user_id, token, device_info, last_active, created_at FROM sessions
		 WHERE token = $1
		 `

	session := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID, &session.UserID, &session.Token, &session.DeviceInfo,
		&session.LastActive, &session.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, token string) error {
	query := `UPDATE sessions SET last_active = now() WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	query := `DELETE FROM sessions WHERE token = $1`

	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM sessions WHERE user_id = $1`

	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) EvictOldest(ctx context.Context, userID string, keep int) (int64, error) {
	query :=
		`DELETE FROM sessions
		 WHERE user_id = $1
		   AND id NOT IN (
			SELECT id FROM sessions
			WHERE user_id = $1
			ORDER BY last_active DESC
			LIMIT $2
		 )`

	res, err := r.db.ExecContext(ctx, query, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query :=
		`SELECT id, user_id, token, device_info, last_active, created_at FROM sessions
		 WHERE user_id = $1
		 ORDER BY last_active DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		var item models.Session
		if err := rows.Scan(&item.ID, &item.UserID, &item.Token, &item.DeviceInfo,
			&item.LastActive, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

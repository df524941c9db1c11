package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/models"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, call *models.Call) error {

	query :=
		`INSERT INTO calls (id, caller, callee, status)
         VALUES ($1, $2, $3, $4)
		 RETURNING start_time, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		call.ID, call.Caller, call.Callee, call.Status).
		Scan(&call.StartTime, &call.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.Call, error) {
	query :=
		`SELECT id, caller, callee, status, start_time, end_time, duration, created_at, updated_at
		 FROM calls
		 WHERE id = $1
		 `

	call := &models.Call{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&call.ID, &call.Caller, &call.Callee, &call.Status,
		&call.StartTime, &call.EndTime, &call.Duration,
		&call.CreatedAt, &call.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return call, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, from, to string) (bool, error) {
	query :=
		`UPDATE calls SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Terminate(ctx context.Context, id, to string, endTime time.Time, duration int64, fromStatuses ...string) (bool, error) {
	if len(fromStatuses) == 0 {
		return false, fmt.Errorf("terminate: no source statuses given")
	}

	placeholders := make([]string, len(fromStatuses))
	args := []any{id, to, endTime, duration}
	for i, s := range fromStatuses {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}

	query := fmt.Sprintf(
		`UPDATE calls SET status = $2, end_time = $3, duration = $4, updated_at = now()
		 WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ", "))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) StaleRinging(ctx context.Context, cutoff time.Time) ([]*models.Call, error) {
	query :=
		`SELECT id, caller, callee, status, start_time, end_time, duration, created_at, updated_at
		 FROM calls
		 WHERE status IN ('calling', 'ringing') AND start_time < $1
		 `

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Call
	for rows.Next() {
		var item models.Call
		if err := rows.Scan(&item.ID, &item.Caller, &item.Callee, &item.Status,
			&item.StartTime, &item.EndTime, &item.Duration,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

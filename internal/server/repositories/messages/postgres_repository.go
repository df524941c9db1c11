package messages

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) error {

	query :=
		`INSERT INTO messages (id, sender, receiver, content, read, kind, call_status, call_duration, call_started_at, call_ended_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at
		 `

	var callStatus sql.NullString
	var callDuration sql.NullInt64
	var callStarted, callEnded sql.NullTime
	if msg.Call != nil {
		callStatus = sql.NullString{String: msg.Call.Status, Valid: true}
		callDuration = sql.NullInt64{Int64: msg.Call.Duration, Valid: true}
		callStarted = sql.NullTime{Time: msg.Call.StartedAt, Valid: true}
		callEnded = sql.NullTime{Time: msg.Call.EndedAt, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		msg.ID, msg.Sender, msg.Receiver, msg.Content, msg.Read, msg.Kind,
		callStatus, callDuration, callStarted, callEnded).Scan(&msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Conversation(ctx context.Context, a, b string, limit int) ([]*models.Message, error) {
	// Inner query pages from the newest end; the outer one restores
	// chronological order for the client.
	query :=
		`SELECT id, sender, receiver, content, read, kind, call_status, call_duration, call_started_at, call_ended_at, created_at, updated_at
		 FROM (
			SELECT id, sender, receiver, content, read, kind, call_status, call_duration, call_started_at, call_ended_at, created_at, updated_at
			FROM messages
			WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
			ORDER BY created_at DESC
			LIMIT $3
		 ) page
		 ORDER BY created_at ASC
		 `

	rows, err := r.db.QueryContext(ctx, query, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, owner, counterpart string) (int64, error) {
	query :=
		`UPDATE messages SET read = TRUE, updated_at = now()
		 WHERE receiver = $1 AND sender = $2 AND read = FALSE`

	res, err := r.db.ExecContext(ctx, query, owner, counterpart)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RecentConversations(ctx context.Context, userID string, limit int) ([]*ConversationSummary, error) {
	query :=
		`SELECT DISTINCT ON (counterpart)
			counterpart,
			id, sender, receiver, content, read, kind, call_status, call_duration, call_started_at, call_ended_at, created_at, updated_at,
			(SELECT count(*) FROM messages u
			 WHERE u.receiver = $1 AND u.sender = m.counterpart AND u.read = FALSE) AS unread
		 FROM (
			SELECT CASE WHEN sender = $1 THEN receiver ELSE sender END AS counterpart, *
			FROM messages
			WHERE sender = $1 OR receiver = $1
		 ) m
		 ORDER BY counterpart, created_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*ConversationSummary
	for rows.Next() {
		var counterpart string
		var unread int64
		msg := &models.Message{}
		var callStatus sql.NullString
		var callDuration sql.NullInt64
		var callStarted, callEnded sql.NullTime
		if err := rows.Scan(&counterpart,
			&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Read, &msg.Kind,
			&callStatus, &callDuration, &callStarted, &callEnded,
			&msg.CreatedAt, &msg.UpdatedAt, &unread); err != nil {
			return nil, err
		}
		attachCallOutcome(msg, callStatus, callDuration, callStarted, callEnded)
		result = append(result, &ConversationSummary{
			Counterpart: counterpart,
			LastMessage: msg,
			Unread:      unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// DISTINCT ON forced counterpart ordering; re-sort by recency.
	sortSummaries(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func sortSummaries(items []*ConversationSummary) {
	// Insertion sort: conversation lists are short.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].LastMessage.CreatedAt.After(items[j-1].LastMessage.CreatedAt); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	msg := &models.Message{}
	var callStatus sql.NullString
	var callDuration sql.NullInt64
	var callStarted, callEnded sql.NullTime
	if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Read, &msg.Kind,
		&callStatus, &callDuration, &callStarted, &callEnded,
		&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	attachCallOutcome(msg, callStatus, callDuration, callStarted, callEnded)
	return msg, nil
}

func attachCallOutcome(msg *models.Message, status sql.NullString, duration sql.NullInt64, started, ended sql.NullTime) {
	if !status.Valid {
		return
	}
	msg.Call = &models.CallOutcome{
		Status:   status.String,
		Duration: duration.Int64,
	}
	if started.Valid {
		msg.Call.StartedAt = started.Time
	}
	if ended.Valid {
		msg.Call.EndedAt = ended.Time
	}
}

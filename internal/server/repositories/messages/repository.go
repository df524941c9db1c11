// Package messages declares the server-side repository contract for the
// persistent message history.
package messages

import (
	"context"

	"github.com/holamess/holamess/internal/server/models"
)

// ConversationSummary is one row of the recent-conversations listing: the
// latest message exchanged with a counterpart plus the unread count.
type ConversationSummary struct {
	Counterpart string
	LastMessage *models.Message
	Unread      int64
}

// Repository defines operations over stored messages. Conversations are
// unordered identity pairs; pagination is newest-first at the query level
// but results are returned in chronological order.
type Repository interface {
	// Create stores a message. CreatedAt is assigned by the database and
	// written back into msg.
	Create(ctx context.Context, msg *models.Message) error

	// Conversation returns up to limit most recent messages between a and b
	// (both directions), in ascending created_at order.
	Conversation(ctx context.Context, a, b string, limit int) ([]*models.Message, error)

	// MarkRead flips read on every unread message sent by counterpart to
	// owner, returning the number of rows flipped. Zero is not an error.
	MarkRead(ctx context.Context, owner, counterpart string) (int64, error)

	// RecentConversations returns one summary per counterpart of userID,
	// newest conversation first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]*ConversationSummary, error)
}

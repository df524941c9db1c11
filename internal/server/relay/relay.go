// Package relay implements private-message delivery: validation, persistence,
// and fan-out to every connection of the receiver plus the sender's other
// devices. It never talks to sockets directly; the transport hands it an
// Origin and a Sender and gets typed acks back.
package relay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	"github.com/holamess/holamess/internal/server/presence"
	"github.com/holamess/holamess/internal/server/repositories/repomanager"
	"github.com/holamess/holamess/internal/wire"
)

// Sender delivers one signal to one connection. Delivery is best effort: a
// dead connection is the transport's problem, not the relay's.
type Sender interface {
	Send(connID string, kind wire.Kind, payload any)
}

// Origin identifies the acting connection. Verified is false only for the
// legacy join attach, where the asserted identity was never authenticated.
type Origin struct {
	ConnID   string
	Identity string
	Verified bool
}

// Relay carries chat messages between identities.
type Relay struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	presence *presence.Table
	sender   Sender
	log      logging.Logger
	pageSize int
}

func New(db *sql.DB, repos repomanager.RepositoryManager, p *presence.Table, sender Sender, cfg *config.Config, log logging.Logger) *Relay {
	return &Relay{
		db:       db,
		repos:    repos,
		presence: p,
		sender:   sender,
		log:      log.With("component", "relay"),
		pageSize: cfg.ConversationPageSize,
	}
}

// SendMessage validates, persists, and fans out one private message. The
// returned ack carries the authoritative persisted id; the transport writes
// it back to the originating connection with the request's correlation id.
//
// A verified connection may only send as itself. Legacy join connections
// asserted their identity unverified, so the guard would add nothing there.
func (r *Relay) SendMessage(ctx context.Context, from Origin, p *wire.PrivateMessagePayload) (*wire.MessageAckPayload, error) {
	if p.Sender == "" || p.Receiver == "" || p.Content == "" {
		return nil, common.ErrorValidation
	}
	if from.Verified && p.Sender != from.Identity {
		return nil, common.ErrSpoofedActor
	}

	msg := &models.Message{
		ID:       uuid.NewString(),
		Sender:   p.Sender,
		Receiver: p.Receiver,
		Content:  p.Content,
		Kind:     models.MessageKindText,
	}
	if err := r.repos.Messages(r.db).Create(ctx, msg); err != nil {
		r.log.Error(ctx, "message persist failed", "error", err)
		return nil, common.ErrorInternal
	}

	event := messageEvent(msg)
	for _, connID := range r.presence.Targets(p.Receiver, "") {
		r.sender.Send(connID, wire.KindPrivateMessage, event)
	}
	for _, connID := range r.presence.Targets(p.Sender, from.ConnID) {
		r.sender.Send(connID, wire.KindPrivateMessage, event)
	}

	r.log.Debug(ctx, "message relayed", "message_id", msg.ID, "receiver_online", r.presence.IsOnline(p.Receiver))

	return &wire.MessageAckPayload{
		ID:              msg.ID,
		ClientMessageID: p.ClientMessageID,
		CreatedAt:       msg.CreatedAt,
	}, nil
}

// Typing forwards a typing notification to every connection of the receiver.
// Nothing is persisted and no ack is produced.
func (r *Relay) Typing(ctx context.Context, from Origin, p *wire.TypingPayload) error {
	if p.Sender == "" || p.Receiver == "" {
		return common.ErrorValidation
	}
	if from.Verified && p.Sender != from.Identity {
		return common.ErrSpoofedActor
	}

	event := &wire.TypingEventPayload{Sender: p.Sender}
	for _, connID := range r.presence.Targets(p.Receiver, "") {
		r.sender.Send(connID, wire.KindTyping, event)
	}
	return nil
}

// MarkRead flips the unread flag on everything counterpart sent to the
// acting identity. When rows actually flipped, the reader's other devices
// get a messages_read sync and the counterpart gets a read receipt. A
// repeat mark_read flips nothing and stays silent.
func (r *Relay) MarkRead(ctx context.Context, from Origin, p *wire.MarkReadPayload) (*wire.MarkReadAckPayload, error) {
	if p.UserID == "" || p.OtherUserID == "" {
		return nil, common.ErrorValidation
	}
	if from.Verified && p.UserID != from.Identity {
		return nil, common.ErrSpoofedActor
	}

	updated, err := r.repos.Messages(r.db).MarkRead(ctx, p.UserID, p.OtherUserID)
	if err != nil {
		r.log.Error(ctx, "mark read failed", "error", err)
		return nil, common.ErrorInternal
	}

	if updated > 0 {
		sync := &wire.MessagesReadPayload{UserID: p.UserID, OtherUserID: p.OtherUserID}
		for _, connID := range r.presence.Targets(p.UserID, from.ConnID) {
			r.sender.Send(connID, wire.KindMessagesRead, sync)
		}
		receipt := &wire.ReceiptReadPayload{ReaderID: p.UserID}
		for _, connID := range r.presence.Targets(p.OtherUserID, "") {
			r.sender.Send(connID, wire.KindReceiptRead, receipt)
		}
	}

	return &wire.MarkReadAckPayload{Updated: updated}, nil
}

// FetchConversation returns the most recent page of messages between the two
// identities in chronological order. The page size is a deliberate bound.
func (r *Relay) FetchConversation(ctx context.Context, a, b string) ([]*wire.MessagePayload, error) {
	if a == "" || b == "" {
		return nil, common.ErrorValidation
	}

	msgs, err := r.repos.Messages(r.db).Conversation(ctx, a, b, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("error fetching conversation: %w", err)
	}

	out := make([]*wire.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageEvent(m))
	}
	return out, nil
}

// RecentConversations lists the caller's conversations, newest first, with
// unread counts.
func (r *Relay) RecentConversations(ctx context.Context, userID string, limit int) ([]*ConversationView, error) {
	summaries, err := r.repos.Messages(r.db).RecentConversations(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error fetching conversations: %w", err)
	}

	out := make([]*ConversationView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, &ConversationView{
			Counterpart: s.Counterpart,
			LastMessage: messageEvent(s.LastMessage),
			Unread:      s.Unread,
		})
	}
	return out, nil
}

// ConversationView is one row of the recent-conversations listing.
type ConversationView struct {
	Counterpart string
	LastMessage *wire.MessagePayload
	Unread      int64
}

// DeliverHistoryMessage persists an already-built message (the call engine's
// synthesized call-history entries) and fans it out to both parties.
func (r *Relay) DeliverHistoryMessage(ctx context.Context, msg *models.Message) error {
	if err := r.repos.Messages(r.db).Create(ctx, msg); err != nil {
		return fmt.Errorf("error persisting history message: %w", err)
	}

	event := messageEvent(msg)
	for _, connID := range r.presence.Targets(msg.Receiver, "") {
		r.sender.Send(connID, wire.KindPrivateMessage, event)
	}
	for _, connID := range r.presence.Targets(msg.Sender, "") {
		r.sender.Send(connID, wire.KindPrivateMessage, event)
	}
	return nil
}

func messageEvent(m *models.Message) *wire.MessagePayload {
	p := &wire.MessagePayload{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Read:      m.Read,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
	}
	if m.Call != nil {
		p.Call = &wire.CallOutcomePayload{
			Status:    m.Call.Status,
			Duration:  m.Call.Duration,
			StartedAt: m.Call.StartedAt,
			EndedAt:   m.Call.EndedAt,
		}
	}
	return p
}

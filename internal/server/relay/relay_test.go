package relay

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/dbx"
	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	"github.com/holamess/holamess/internal/server/presence"
	callsrepo "github.com/holamess/holamess/internal/server/repositories/calls"
	messagesrepo "github.com/holamess/holamess/internal/server/repositories/messages"
	refreshtokensrepo "github.com/holamess/holamess/internal/server/repositories/refreshtokens"
	sessionsrepo "github.com/holamess/holamess/internal/server/repositories/sessions"
	usersrepo "github.com/holamess/holamess/internal/server/repositories/users"
	"github.com/holamess/holamess/internal/wire"
)

// --- fakes ---

type sentSignal struct {
	ConnID  string
	Kind    wire.Kind
	Payload any
}

type fakeSender struct {
	sent []sentSignal
}

func (f *fakeSender) Send(connID string, kind wire.Kind, payload any) {
	f.sent = append(f.sent, sentSignal{ConnID: connID, Kind: kind, Payload: payload})
}

func (f *fakeSender) ofKind(kind wire.Kind) []sentSignal {
	var out []sentSignal
	for _, s := range f.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeMessagesRepo struct {
	created   []*models.Message
	createErr error

	conversationOut []*models.Message

	markReadOut int64
	markReadErr error
}

func (f *fakeMessagesRepo) Create(ctx context.Context, msg *models.Message) error {
	if f.createErr != nil {
		return f.createErr
	}
	msg.CreatedAt = time.Now()
	f.created = append(f.created, msg)
	return nil
}
func (f *fakeMessagesRepo) Conversation(ctx context.Context, a, b string, limit int) ([]*models.Message, error) {
	return f.conversationOut, nil
}
func (f *fakeMessagesRepo) MarkRead(ctx context.Context, owner, counterpart string) (int64, error) {
	if f.markReadErr != nil {
		return 0, f.markReadErr
	}
	return f.markReadOut, nil
}
func (f *fakeMessagesRepo) RecentConversations(ctx context.Context, userID string, limit int) ([]*messagesrepo.ConversationSummary, error) {
	return nil, nil
}

type fakeRepoManager struct {
	m *fakeMessagesRepo
}

func (rm *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error                 { return nil }
func (rm *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                      { return nil }
func (rm *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository                { return nil }
func (rm *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository      { return nil }
func (rm *fakeRepoManager) Messages(db dbx.DBTX) messagesrepo.Repository                { return rm.m }
func (rm *fakeRepoManager) Calls(db dbx.DBTX) callsrepo.Repository                      { return nil }

func newRelay(t *testing.T) (*Relay, *fakeSender, *fakeMessagesRepo, *presence.Table) {
	t.Helper()
	cfg := &config.Config{ConversationPageSize: 100}
	sender := &fakeSender{}
	repo := &fakeMessagesRepo{}
	tbl := presence.NewTable()
	r := New(nil, &fakeRepoManager{m: repo}, tbl, sender, cfg, logging.NewNopLogger())
	return r, sender, repo, tbl
}

// --- tests ---

func TestSendMessage_FanOut(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)

	// alice has two devices, bob has one
	tbl.Attach("alice", "a1")
	tbl.Attach("alice", "a2")
	tbl.Attach("bob", "b1")

	ack, err := r.SendMessage(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: true},
		&wire.PrivateMessagePayload{Sender: "alice", Receiver: "bob", Content: "hi", ClientMessageID: "tmp-1"})
	require.NoError(t, err)
	require.NotNil(t, ack)

	assert.NotEmpty(t, ack.ID)
	assert.Equal(t, "tmp-1", ack.ClientMessageID)
	require.Len(t, repo.created, 1)
	assert.Equal(t, models.MessageKindText, repo.created[0].Kind)

	events := sender.ofKind(wire.KindPrivateMessage)
	require.Len(t, events, 2, "bob's device plus alice's other device")
	targets := map[string]bool{}
	for _, e := range events {
		targets[e.ConnID] = true
	}
	assert.True(t, targets["b1"])
	assert.True(t, targets["a2"])
	assert.False(t, targets["a1"], "origin connection gets the ack, not the event")
}

func TestSendMessage_OfflineReceiverStillPersists(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("alice", "a1")

	ack, err := r.SendMessage(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: true},
		&wire.PrivateMessagePayload{Sender: "alice", Receiver: "bob", Content: "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, ack.ID)
	assert.Len(t, repo.created, 1)
	assert.Empty(t, sender.ofKind(wire.KindPrivateMessage))
}

func TestSendMessage_SpoofRejected(t *testing.T) {
	r, _, repo, tbl := newRelay(t)
	tbl.Attach("mallory", "m1")

	_, err := r.SendMessage(context.Background(),
		Origin{ConnID: "m1", Identity: "mallory", Verified: true},
		&wire.PrivateMessagePayload{Sender: "alice", Receiver: "bob", Content: "hi"})
	assert.ErrorIs(t, err, common.ErrSpoofedActor)
	assert.Empty(t, repo.created)
}

func TestSendMessage_LegacyJoinSkipsSpoofGuard(t *testing.T) {
	r, _, repo, tbl := newRelay(t)
	tbl.Attach("alice", "a1")

	_, err := r.SendMessage(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: false},
		&wire.PrivateMessagePayload{Sender: "someone-else", Receiver: "bob", Content: "hi"})
	require.NoError(t, err)
	assert.Len(t, repo.created, 1)
}

func TestSendMessage_Validation(t *testing.T) {
	r, _, _, _ := newRelay(t)

	_, err := r.SendMessage(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: true},
		&wire.PrivateMessagePayload{Sender: "alice", Receiver: "bob"})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestSendMessage_PersistErrorNoFanOut(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("alice", "a1")
	tbl.Attach("bob", "b1")
	repo.createErr = errors.New("db down")

	_, err := r.SendMessage(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: true},
		&wire.PrivateMessagePayload{Sender: "alice", Receiver: "bob", Content: "hi"})
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Empty(t, sender.sent, "no event may escape before persistence succeeds")
}

func TestTyping_ForwardedWithoutPersistence(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("bob", "b1")
	tbl.Attach("bob", "b2")

	err := r.Typing(context.Background(),
		Origin{ConnID: "a1", Identity: "alice", Verified: true},
		&wire.TypingPayload{Sender: "alice", Receiver: "bob"})
	require.NoError(t, err)

	assert.Len(t, sender.ofKind(wire.KindTyping), 2)
	assert.Empty(t, repo.created)
}

func TestMarkRead_NotifiesBothSides(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("bob", "b1")
	tbl.Attach("bob", "b2")
	tbl.Attach("alice", "a1")
	repo.markReadOut = 3

	ack, err := r.MarkRead(context.Background(),
		Origin{ConnID: "b1", Identity: "bob", Verified: true},
		&wire.MarkReadPayload{UserID: "bob", OtherUserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ack.Updated)

	syncs := sender.ofKind(wire.KindMessagesRead)
	require.Len(t, syncs, 1, "only bob's other device")
	assert.Equal(t, "b2", syncs[0].ConnID)

	receipts := sender.ofKind(wire.KindReceiptRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, "a1", receipts[0].ConnID)
}

func TestMarkRead_IdempotentStaysSilent(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("bob", "b1")
	tbl.Attach("alice", "a1")
	repo.markReadOut = 0

	ack, err := r.MarkRead(context.Background(),
		Origin{ConnID: "b1", Identity: "bob", Verified: true},
		&wire.MarkReadPayload{UserID: "bob", OtherUserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), ack.Updated)
	assert.Empty(t, sender.sent)
}

func TestMarkRead_SpoofRejected(t *testing.T) {
	r, _, _, _ := newRelay(t)

	_, err := r.MarkRead(context.Background(),
		Origin{ConnID: "m1", Identity: "mallory", Verified: true},
		&wire.MarkReadPayload{UserID: "bob", OtherUserID: "alice"})
	assert.ErrorIs(t, err, common.ErrSpoofedActor)
}

func TestFetchConversation_MapsCallOutcome(t *testing.T) {
	r, _, repo, _ := newRelay(t)
	now := time.Now()
	repo.conversationOut = []*models.Message{
		{ID: "m-1", Sender: "alice", Receiver: "bob", Content: "hi", Kind: models.MessageKindText, CreatedAt: now},
		{ID: "m-2", Sender: "alice", Receiver: "bob", Kind: models.MessageKindCall,
			Call: &models.CallOutcome{Status: "completed", Duration: 90}, CreatedAt: now},
	}

	got, err := r.FetchConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].Call)
	require.NotNil(t, got[1].Call)
	assert.Equal(t, int64(90), got[1].Call.Duration)
}

func TestDeliverHistoryMessage_FansOutToBothParties(t *testing.T) {
	r, sender, repo, tbl := newRelay(t)
	tbl.Attach("alice", "a1")
	tbl.Attach("bob", "b1")

	msg := &models.Message{ID: "m-1", Sender: "alice", Receiver: "bob",
		Kind: models.MessageKindCall, Call: &models.CallOutcome{Status: "completed", Duration: 60}}
	require.NoError(t, r.DeliverHistoryMessage(context.Background(), msg))

	assert.Len(t, repo.created, 1)
	assert.Len(t, sender.ofKind(wire.KindPrivateMessage), 2)
}

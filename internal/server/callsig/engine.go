// Package callsig implements the two-party voice-call state machine:
// offer/answer/ICE mediation, authorization on every transition, and the
// durable call-history side effect when a call completes.
//
// Transitions are guarded at the data layer: a terminal state is reached at
// most once, and the loser of a racing transition is told the call already
// ended instead of double-computing anything.
package callsig

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/models"
	"github.com/holamess/holamess/internal/server/presence"
	"github.com/holamess/holamess/internal/server/repositories/repomanager"
	"github.com/holamess/holamess/internal/wire"
)

// Sender delivers one signal to one connection, best effort.
type Sender interface {
	Send(connID string, kind wire.Kind, payload any)
}

// HistoryRecorder persists and fans out a synthesized call-history message.
// The relay implements it.
type HistoryRecorder interface {
	DeliverHistoryMessage(ctx context.Context, msg *models.Message) error
}

// Origin identifies the acting connection.
type Origin struct {
	ConnID   string
	Identity string
}

// Engine mediates call signaling between exactly two identities.
type Engine struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	presence *presence.Table
	sender   Sender
	history  HistoryRecorder
	log      logging.Logger

	ringTimeout time.Duration
	now         func() time.Time
}

func New(db *sql.DB, repos repomanager.RepositoryManager, p *presence.Table, sender Sender, history HistoryRecorder, cfg *config.Config, log logging.Logger) *Engine {
	return &Engine{
		db:          db,
		repos:       repos,
		presence:    p,
		sender:      sender,
		history:     history,
		log:         log.With("component", "callsig"),
		ringTimeout: cfg.RingTimeout,
		now:         time.Now,
	}
}

// Offer places a call. The caller identity comes from the authenticated
// connection, never from the payload. An offline callee terminates the call
// as missed immediately and the caller is told the user is offline.
func (e *Engine) Offer(ctx context.Context, from Origin, p *wire.CallOfferPayload) (*wire.CallAckPayload, error) {
	if p.CallID == "" || p.CalleeID == "" || len(p.Offer) == 0 {
		return nil, common.ErrorValidation
	}
	if p.CalleeID == from.Identity {
		return nil, common.ErrorValidation
	}

	repo := e.repos.Calls(e.db)
	call := &models.Call{ID: p.CallID, Caller: from.Identity, Callee: p.CalleeID, Status: models.CallStatusCalling}
	if err := repo.Create(ctx, call); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		e.log.Error(ctx, "call create failed", "call_id", p.CallID, "error", err)
		return nil, common.ErrorInternal
	}

	if !e.presence.IsOnline(p.CalleeID) {
		if _, err := repo.Terminate(ctx, call.ID, models.CallStatusMissed, e.now(), 0, models.CallStatusCalling); err != nil {
			e.log.Error(ctx, "missed transition failed", "call_id", call.ID, "error", err)
		}
		return nil, common.ErrUserOffline
	}

	// Ringing is persisted before any device is told to ring, so an answer
	// racing the fan-out always finds the transition already applied.
	if _, err := repo.UpdateStatus(ctx, call.ID, models.CallStatusCalling, models.CallStatusRinging); err != nil {
		e.log.Error(ctx, "ringing transition failed", "call_id", call.ID, "error", err)
		return nil, common.ErrorInternal
	}

	// The callee may have dropped between the presence check and here;
	// the ring stays un-answered and the timeout sweep (or the caller's
	// hangup) resolves it.
	incoming := &wire.IncomingCallPayload{CallID: call.ID, CallerID: from.Identity, Offer: p.Offer}
	for _, connID := range e.presence.Targets(p.CalleeID, "") {
		e.sender.Send(connID, wire.KindIncomingCall, incoming)
	}
	outgoing := &wire.OutgoingCallPayload{CallID: call.ID, CalleeID: p.CalleeID}
	for _, connID := range e.presence.Targets(from.Identity, from.ConnID) {
		e.sender.Send(connID, wire.KindOutgoingCall, outgoing)
	}

	e.log.Info(ctx, "call placed", "call_id", call.ID, "caller", from.Identity, "callee", p.CalleeID)
	return &wire.CallAckPayload{CallID: call.ID, Status: models.CallStatusRinging, Success: true}, nil
}

// Answer accepts a ringing call. Only the callee may answer; the answer SDP
// goes to every caller connection and the callee's other devices are told to
// stop ringing.
func (e *Engine) Answer(ctx context.Context, from Origin, p *wire.CallAnswerPayload) (*wire.CallAckPayload, error) {
	if p.CallID == "" || len(p.Answer) == 0 {
		return nil, common.ErrorValidation
	}

	repo := e.repos.Calls(e.db)
	call, err := repo.Find(ctx, p.CallID)
	if err != nil {
		return nil, err
	}
	if from.Identity != call.Callee {
		return nil, common.ErrNotInCall
	}
	if models.TerminalCallStatus(call.Status) {
		return nil, common.ErrCallEnded
	}

	moved, err := repo.UpdateStatus(ctx, call.ID, models.CallStatusRinging, models.CallStatusConnected)
	if err != nil {
		e.log.Error(ctx, "connect transition failed", "call_id", call.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !moved {
		// Lost a race: the call moved on while we were looking at it.
		return nil, common.ErrCallEnded
	}

	answered := &wire.CallAnsweredPayload{CallID: call.ID, Answer: p.Answer}
	for _, connID := range e.presence.Targets(call.Caller, "") {
		e.sender.Send(connID, wire.KindCallAnswered, answered)
	}
	elsewhere := &wire.CallAnsweredElsewherePayload{CallID: call.ID}
	for _, connID := range e.presence.Targets(call.Callee, from.ConnID) {
		e.sender.Send(connID, wire.KindCallAnsweredElsewhere, elsewhere)
	}

	e.log.Info(ctx, "call answered", "call_id", call.ID)
	return &wire.CallAckPayload{CallID: call.ID, Status: models.CallStatusConnected, Success: true}, nil
}

// RelayICE forwards an ICE candidate verbatim to the other participant's
// connections. Only participants may relay; no state changes.
func (e *Engine) RelayICE(ctx context.Context, from Origin, p *wire.CallICECandidatePayload) error {
	if p.CallID == "" || len(p.Candidate) == 0 {
		return common.ErrorValidation
	}

	call, err := e.repos.Calls(e.db).Find(ctx, p.CallID)
	if err != nil {
		return err
	}

	var peer string
	switch from.Identity {
	case call.Caller:
		peer = call.Callee
	case call.Callee:
		peer = call.Caller
	default:
		return common.ErrNotInCall
	}
	if models.TerminalCallStatus(call.Status) {
		return common.ErrCallEnded
	}

	event := &wire.CallICECandidatePayload{CallID: call.ID, Candidate: p.Candidate}
	for _, connID := range e.presence.Targets(peer, "") {
		e.sender.Send(connID, wire.KindCallICECandidate, event)
	}
	return nil
}

// End terminates a call from either participant. Exactly one end wins; the
// loser gets ErrCallEnded. A completed call with non-zero duration leaves a
// call-history message behind.
func (e *Engine) End(ctx context.Context, from Origin, p *wire.CallEndPayload) (*wire.CallAckPayload, error) {
	if p.CallID == "" {
		return nil, common.ErrorValidation
	}

	repo := e.repos.Calls(e.db)
	call, err := repo.Find(ctx, p.CallID)
	if err != nil {
		return nil, err
	}
	if from.Identity != call.Caller && from.Identity != call.Callee {
		return nil, common.ErrNotInCall
	}
	if models.TerminalCallStatus(call.Status) {
		return nil, common.ErrCallEnded
	}

	endTime := e.now()
	duration := int64(endTime.Sub(call.StartTime).Seconds())
	if duration < 0 {
		duration = 0
	}

	won, err := repo.Terminate(ctx, call.ID, models.CallStatusEnded, endTime, duration,
		models.CallStatusCalling, models.CallStatusRinging, models.CallStatusConnected)
	if err != nil {
		e.log.Error(ctx, "end transition failed", "call_id", call.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !won {
		return nil, common.ErrCallEnded
	}

	other := call.Caller
	if from.Identity == call.Caller {
		other = call.Callee
	}
	ended := &wire.CallEndedPayload{CallID: call.ID, Duration: duration}
	for _, connID := range e.presence.Targets(other, "") {
		e.sender.Send(connID, wire.KindCallEnded, ended)
	}
	for _, connID := range e.presence.Targets(from.Identity, from.ConnID) {
		e.sender.Send(connID, wire.KindCallEnded, ended)
	}

	if duration > 0 {
		e.recordHistory(ctx, call, endTime, duration)
	}

	e.log.Info(ctx, "call ended", "call_id", call.ID, "duration", duration)
	return &wire.CallAckPayload{CallID: call.ID, Status: models.CallStatusEnded, Success: true}, nil
}

// Decline rejects a ringing call. Only the callee may decline; declined
// calls leave no call-history message.
func (e *Engine) Decline(ctx context.Context, from Origin, p *wire.CallDeclinePayload) (*wire.CallAckPayload, error) {
	if p.CallID == "" {
		return nil, common.ErrorValidation
	}

	repo := e.repos.Calls(e.db)
	call, err := repo.Find(ctx, p.CallID)
	if err != nil {
		return nil, err
	}
	if from.Identity != call.Callee {
		return nil, common.ErrNotInCall
	}
	if models.TerminalCallStatus(call.Status) {
		return nil, common.ErrCallEnded
	}

	won, err := repo.Terminate(ctx, call.ID, models.CallStatusDeclined, e.now(), 0,
		models.CallStatusCalling, models.CallStatusRinging)
	if err != nil {
		e.log.Error(ctx, "decline transition failed", "call_id", call.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !won {
		return nil, common.ErrCallEnded
	}

	declined := &wire.CallDeclinedPayload{CallID: call.ID}
	for _, connID := range e.presence.Targets(call.Caller, "") {
		e.sender.Send(connID, wire.KindCallDeclined, declined)
	}
	elsewhere := &wire.CallDeclinedElsewherePayload{CallID: call.ID}
	for _, connID := range e.presence.Targets(call.Callee, from.ConnID) {
		e.sender.Send(connID, wire.KindCallDeclinedElsewhere, elsewhere)
	}

	e.log.Info(ctx, "call declined", "call_id", call.ID)
	return &wire.CallAckPayload{CallID: call.ID, Status: models.CallStatusDeclined, Success: true}, nil
}

// SweepStaleRinging times out calls stuck in calling/ringing. A zero ring
// timeout disables the sweep.
func (e *Engine) SweepStaleRinging(ctx context.Context) {
	if e.ringTimeout <= 0 {
		return
	}

	repo := e.repos.Calls(e.db)
	stale, err := repo.StaleRinging(ctx, e.now().Add(-e.ringTimeout))
	if err != nil {
		e.log.Error(ctx, "stale call sweep failed", "error", err)
		return
	}

	for _, call := range stale {
		won, err := repo.Terminate(ctx, call.ID, models.CallStatusMissed, e.now(), 0,
			models.CallStatusCalling, models.CallStatusRinging)
		if err != nil {
			e.log.Error(ctx, "missed transition failed", "call_id", call.ID, "error", err)
			continue
		}
		if !won {
			continue
		}

		ended := &wire.CallEndedPayload{CallID: call.ID, Duration: 0}
		for _, connID := range e.presence.Targets(call.Caller, "") {
			e.sender.Send(connID, wire.KindCallEnded, ended)
		}
		for _, connID := range e.presence.Targets(call.Callee, "") {
			e.sender.Send(connID, wire.KindCallEnded, ended)
		}
		e.log.Info(ctx, "call timed out", "call_id", call.ID)
	}
}

// RunSweeper periodically times out stale rings until ctx is done. The
// interval tracks the ring timeout itself.
func (e *Engine) RunSweeper(ctx context.Context) {
	if e.ringTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(e.ringTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepStaleRinging(ctx)
		}
	}
}

func (e *Engine) recordHistory(ctx context.Context, call *models.Call, endTime time.Time, duration int64) {
	msg := &models.Message{
		ID:       uuid.NewString(),
		Sender:   call.Caller,
		Receiver: call.Callee,
		Kind:     models.MessageKindCall,
		Call: &models.CallOutcome{
			Status:    "completed",
			Duration:  duration,
			StartedAt: call.StartTime,
			EndedAt:   endTime,
		},
	}
	// The call record is already authoritative; a failed history write is
	// logged, not surfaced to the ender.
	if err := e.history.DeliverHistoryMessage(ctx, msg); err != nil {
		e.log.Error(ctx, "call history message failed", "call_id", call.ID, "error", err)
	}
}

// MapError translates an engine error into a wire call-error code.
func MapError(err error) string {
	switch {
	case errors.Is(err, common.ErrUserOffline):
		return wire.CallCodeUserOffline
	case errors.Is(err, common.ErrorNotFound):
		return wire.CallCodeNotFound
	case errors.Is(err, common.ErrNotInCall):
		return wire.CallCodeUnauthorized
	case errors.Is(err, common.ErrCallEnded):
		return wire.CallCodeEnded
	default:
		return wire.CallCodeInternal
	}
}

// Package realtime maintains the client side of the realtime TCP protocol:
// it dials the endpoint, performs the authenticate handshake, correlates
// request/ack pairs by id, and surfaces unsolicited events on a channel.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/holamess/holamess/internal/wire"
)

var (
	ErrClosed  = errors.New("session closed")
	ErrTimeout = errors.New("request timed out")
)

// Event is one unsolicited server signal (fan-out message, presence change,
// call signal, forced disconnect notice).
type Event struct {
	Kind     wire.Kind
	Envelope *wire.Envelope
}

// Session is a single authenticated realtime connection. Safe for concurrent
// use; each outbound request blocks until its correlated reply arrives.
type Session struct {
	conn           net.Conn
	requestTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *wire.Envelope
	closed  bool
	err     error

	events chan Event
	done   chan struct{}
}

// Dial connects to addr and starts the read loop. The session is not usable
// until Authenticate succeeds.
func Dial(addr string, requestTimeout time.Duration) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	return newSession(conn, requestTimeout), nil
}

func newSession(conn net.Conn, requestTimeout time.Duration) *Session {
	s := &Session{
		conn:           conn,
		requestTimeout: requestTimeout,
		pending:        make(map[uint64]chan *wire.Envelope),
		events:         make(chan Event, 64),
		done:           make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Events returns the channel of unsolicited server signals. It is closed
// when the connection drops.
func (s *Session) Events() <-chan Event { return s.events }

// Err reports why the session ended, nil while it is still up.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.fail(ErrClosed)
	return nil
}

// Authenticate performs the token handshake and returns the server-confirmed
// user id.
func (s *Session) Authenticate(ctx context.Context, token, device string) (string, error) {
	env, err := s.request(ctx, wire.KindAuthenticate, &wire.AuthenticatePayload{Token: token, Device: device})
	if err != nil {
		return "", err
	}
	if env.Kind == wire.KindAuthError {
		p, derr := wire.DecodePayload[wire.AuthErrorPayload](env)
		if derr != nil {
			return "", derr
		}
		return "", fmt.Errorf("authentication rejected: %s (%s)", p.Error, p.Code)
	}
	ack, err := wire.DecodePayload[wire.AuthAckPayload](env)
	if err != nil {
		return "", err
	}
	if !ack.Success {
		return "", fmt.Errorf("authentication rejected: %s", ack.Error)
	}
	return ack.UserID, nil
}

// SendMessage sends a private message and returns the persisted-id ack.
func (s *Session) SendMessage(ctx context.Context, sender, receiver, content, clientMessageID string) (*wire.MessageAckPayload, error) {
	env, err := s.request(ctx, wire.KindPrivateMessage, &wire.PrivateMessagePayload{
		Sender: sender, Receiver: receiver, Content: content, ClientMessageID: clientMessageID,
	})
	if err != nil {
		return nil, err
	}
	if err := replyError(env); err != nil {
		return nil, err
	}
	return wire.DecodePayload[wire.MessageAckPayload](env)
}

// Typing is fire-and-forget: the server never acks it.
func (s *Session) Typing(sender, receiver string) error {
	return s.send(wire.KindTyping, 0, &wire.TypingPayload{Sender: sender, Receiver: receiver})
}

// MarkRead flips the unread flags of a conversation and returns the count.
func (s *Session) MarkRead(ctx context.Context, userID, otherUserID string) (int64, error) {
	env, err := s.request(ctx, wire.KindMarkRead, &wire.MarkReadPayload{UserID: userID, OtherUserID: otherUserID})
	if err != nil {
		return 0, err
	}
	if err := replyError(env); err != nil {
		return 0, err
	}
	ack, err := wire.DecodePayload[wire.MarkReadAckPayload](env)
	if err != nil {
		return 0, err
	}
	return ack.Updated, nil
}

// OnlineUsers fetches the current presence snapshot.
func (s *Session) OnlineUsers(ctx context.Context) ([]string, error) {
	env, err := s.request(ctx, wire.KindGetOnlineUsers, struct{}{})
	if err != nil {
		return nil, err
	}
	if err := replyError(env); err != nil {
		return nil, err
	}
	p, err := wire.DecodePayload[wire.OnlineUsersPayload](env)
	if err != nil {
		return nil, err
	}
	return p.Users, nil
}

// replyError surfaces a correlated error_message/auth_error/call_error reply.
func replyError(env *wire.Envelope) error {
	switch env.Kind {
	case wire.KindErrorMessage:
		p, err := wire.DecodePayload[wire.ErrorPayload](env)
		if err != nil {
			return err
		}
		return errors.New(p.Error)
	case wire.KindAuthError:
		p, err := wire.DecodePayload[wire.AuthErrorPayload](env)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s (%s)", p.Error, p.Code)
	case wire.KindCallError:
		p, err := wire.DecodePayload[wire.CallErrorPayload](env)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s (%s)", p.Error, p.Code)
	}
	return nil
}

// request sends an envelope with a fresh correlation id and waits for the
// reply that echoes it.
func (s *Session) request(ctx context.Context, kind wire.Kind, payload any) (*wire.Envelope, error) {
	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	id := s.nextID
	ch := make(chan *wire.Envelope, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.send(kind, id, payload); err != nil {
		s.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, s.Err()
		}
		return env, nil
	case <-timer.C:
		s.dropPending(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		s.dropPending(id)
		return nil, ctx.Err()
	}
}

func (s *Session) dropPending(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) send(kind wire.Kind, id uint64, payload any) error {
	env, err := wire.NewEnvelope(kind, id, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteEnvelope(s.conn, env)
}

func (s *Session) readLoop() {
	// Sole sender on events, so it closes the channel on exit.
	defer close(s.events)
	for {
		env, err := wire.ReadEnvelope(s.conn)
		if err != nil {
			s.fail(err)
			return
		}

		if env.ID != 0 {
			s.mu.Lock()
			ch, ok := s.pending[env.ID]
			if ok {
				delete(s.pending, env.ID)
			}
			s.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		select {
		case s.events <- Event{Kind: env.Kind, Envelope: env}:
		case <-s.done:
			return
		}
	}
}

// fail tears the session down exactly once: pending waiters are released,
// the events channel is closed, and Err starts returning the cause.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = cause
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	close(s.done)
	_ = s.conn.Close()
}

// Package hub is the realtime transport: it owns the TCP listener, the
// per-connection read loops, the authenticate/join handshake, and the
// dispatch of signals into the relay and the call engine. It also runs the
// periodic token revalidation sweep that cuts revoked sessions loose.
package hub

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/holamess/holamess/internal/common"
	"github.com/holamess/holamess/internal/logging"
	"github.com/holamess/holamess/internal/server/callsig"
	"github.com/holamess/holamess/internal/server/config"
	"github.com/holamess/holamess/internal/server/presence"
	"github.com/holamess/holamess/internal/server/relay"
	"github.com/holamess/holamess/internal/wire"
)

// TokenVerifier answers whether an access token is good right now.
// services.AuthService implements it.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (string, error)
}

// Hub accepts realtime connections and routes their signals.
type Hub struct {
	address  string
	presence *presence.Table
	relay    *relay.Relay
	calls    *callsig.Engine
	verifier TokenVerifier
	log      logging.Logger

	revalidateInterval time.Duration
	allowLegacyJoin    bool

	mu    sync.RWMutex
	conns map[string]*conn

	lnMu sync.Mutex
	ln   net.Listener
}

func New(cfg *config.Config, p *presence.Table, verifier TokenVerifier, log logging.Logger) *Hub {
	return &Hub{
		address:            cfg.EndpointAddrRealtime,
		presence:           p,
		verifier:           verifier,
		log:                log.With("module", "hub"),
		revalidateInterval: cfg.RevalidateInterval,
		allowLegacyJoin:    cfg.AllowLegacyJoin,
		conns:              make(map[string]*conn),
	}
}

// Wire attaches the relay and call engine. Separate from New because both
// need the hub as their Sender.
func (h *Hub) Wire(r *relay.Relay, e *callsig.Engine) {
	h.relay = r
	h.calls = e
}

// Send implements relay.Sender and callsig.Sender: best-effort delivery of
// an unsolicited event (correlation id 0) to one connection.
func (h *Hub) Send(connID string, kind wire.Kind, payload any) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.send(kind, 0, payload); err != nil {
		h.log.Debug(context.Background(), "send failed", "conn_id", connID, "kind", kind, "error", err)
	}
}

// Run listens for realtime connections until ctx is done.
func (h *Hub) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", h.address)
	if err != nil {
		return err
	}
	h.lnMu.Lock()
	h.ln = listen
	h.lnMu.Unlock()

	go func() {
		<-ctx.Done()
		h.log.Info(ctx, "Stopping realtime server...")
		listen.Close()
		h.closeAll()
	}()

	if h.revalidateInterval > 0 {
		go h.runRevalidation(ctx)
	}
	if h.calls != nil {
		go h.calls.RunSweeper(ctx)
	}

	h.log.Info(ctx, "Starting realtime server", "address", h.address)

	for {
		netConn, err := listen.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go h.handleConn(ctx, netConn)
	}
}

// Addr reports the bound listener address, nil before Run has bound it.
// Useful when listening on :0.
func (h *Hub) Addr() net.Addr {
	h.lnMu.Lock()
	defer h.lnMu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

func (h *Hub) handleConn(ctx context.Context, netConn net.Conn) {
	connID, err := common.MakeRandHexString(16)
	if err != nil {
		netConn.Close()
		return
	}
	c := &conn{id: connID, netConn: netConn}

	defer h.dropConn(ctx, c)

	for {
		env, err := wire.ReadEnvelope(netConn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.log.Debug(ctx, "read failed", "conn_id", c.id, "error", err)
			}
			return
		}

		if !c.authenticated() {
			if !h.handshake(ctx, c, env) {
				return
			}
			continue
		}

		h.dispatch(ctx, c, env)
	}
}

// handshake handles the first signal of a connection, which must be
// authenticate or the legacy join. It reports whether the connection may
// continue. A rejected credential is not a protocol error: the connection
// stays open, unattached, so the client can retry with a fresh token or
// fall back to join. Malformed envelopes do close the connection.
func (h *Hub) handshake(ctx context.Context, c *conn, env *wire.Envelope) bool {
	switch env.Kind {
	case wire.KindAuthenticate:
		p, err := wire.DecodePayload[wire.AuthenticatePayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindAuthError, &wire.AuthErrorPayload{Code: wire.AuthCodeTokenInvalid, Error: "malformed authenticate"})
			return false
		}
		userID, err := h.verifier.VerifyAccess(ctx, p.Token)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindAuthError, authErrorPayload(err))
			return true
		}
		c.identity = userID
		c.device = p.Device
		c.token = p.Token
		c.verified = true

	case wire.KindJoin:
		if !h.allowLegacyJoin {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: "join is no longer supported, authenticate instead"})
			return true
		}
		p, err := wire.DecodePayload[wire.JoinPayload](env)
		if err != nil || p.UserID == "" {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: "malformed join"})
			return false
		}
		// The asserted identity is taken at face value. That is the
		// deliberate legacy contract, which is why AllowLegacyJoin exists.
		c.identity = p.UserID
		c.device = p.Device
		c.verified = false

	default:
		h.sendErr(c, env.ID, wire.KindAuthError, &wire.AuthErrorPayload{Code: wire.AuthCodeTokenInvalid, Error: "authenticate first"})
		return false
	}

	c.authenticatedAt = time.Now()

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	first := h.presence.Attach(c.identity, c.id)

	if err := c.send(wire.KindAck, env.ID, &wire.AuthAckPayload{Success: true, UserID: c.identity}); err != nil {
		return false
	}

	if first {
		h.broadcastAll(c.id, wire.KindUserOnline, &wire.UserOnlinePayload{UserID: c.identity})
	}
	for _, connID := range h.presence.Targets(c.identity, c.id) {
		h.Send(connID, wire.KindDeviceConnected, &wire.DeviceConnectedPayload{Device: c.device})
	}

	h.log.Info(ctx, "connection attached", "conn_id", c.id, "user_id", c.identity, "verified", c.verified)
	return true
}

func (h *Hub) dispatch(ctx context.Context, c *conn, env *wire.Envelope) {
	from := relay.Origin{ConnID: c.id, Identity: c.identity, Verified: c.verified}

	switch env.Kind {

	case wire.KindGetOnlineUsers:
		users := h.presence.Snapshot()
		if err := c.send(wire.KindAck, env.ID, &wire.OnlineUsersPayload{Users: users}); err != nil {
			h.log.Debug(ctx, "send failed", "conn_id", c.id, "error", err)
		}

	case wire.KindPrivateMessage:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.PrivateMessagePayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.relay.SendMessage(ctx, from, p)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: userFacing(err)})
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindTyping:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.TypingPayload](env)
		if err != nil {
			return
		}
		if err := h.relay.Typing(ctx, from, p); err != nil {
			h.log.Debug(ctx, "typing rejected", "conn_id", c.id, "error", err)
		}

	case wire.KindMarkRead:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.MarkReadPayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.relay.MarkRead(ctx, from, p)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: userFacing(err)})
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindCallOffer:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.CallOfferPayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.calls.Offer(ctx, callOrigin(c), p)
		if err != nil {
			h.sendCallErr(c, env.ID, p.CallID, err)
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindCallAnswer:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.CallAnswerPayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.calls.Answer(ctx, callOrigin(c), p)
		if err != nil {
			h.sendCallErr(c, env.ID, p.CallID, err)
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindCallICECandidate:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.CallICECandidatePayload](env)
		if err != nil {
			return
		}
		if err := h.calls.RelayICE(ctx, callOrigin(c), p); err != nil {
			h.sendCallErr(c, env.ID, p.CallID, err)
		}

	case wire.KindCallEnd:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.CallEndPayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.calls.End(ctx, callOrigin(c), p)
		if err != nil {
			h.sendCallErr(c, env.ID, p.CallID, err)
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindCallDecline:
		if !h.revalidate(ctx, c, env.ID) {
			return
		}
		p, err := wire.DecodePayload[wire.CallDeclinePayload](env)
		if err != nil {
			h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: err.Error()})
			return
		}
		ack, err := h.calls.Decline(ctx, callOrigin(c), p)
		if err != nil {
			h.sendCallErr(c, env.ID, p.CallID, err)
			return
		}
		c.send(wire.KindAck, env.ID, ack)

	case wire.KindAuthenticate, wire.KindJoin:
		h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: "already authenticated"})

	default:
		h.sendErr(c, env.ID, wire.KindErrorMessage, &wire.ErrorPayload{Error: "unknown signal: " + string(env.Kind)})
	}
}

// revalidate re-checks a verified connection's token before a state-mutating
// operation. Legacy join connections have no token to check. A failed check
// surfaces an auth_error with the request's correlation id; the connection
// stays up so the client can re-authenticate over a fresh connection after
// refreshing.
func (h *Hub) revalidate(ctx context.Context, c *conn, reqID uint64) bool {
	if !c.verified {
		return true
	}
	if _, err := h.verifier.VerifyAccess(ctx, c.token); err != nil {
		h.sendErr(c, reqID, wire.KindAuthError, authErrorPayload(err))
		return false
	}
	return true
}

// runRevalidation periodically sweeps all verified connections and force
// disconnects the ones whose token or session no longer holds. The client
// sees token_expired before the socket closes, so it can tell the difference
// from a network drop.
func (h *Hub) runRevalidation(ctx context.Context) {
	ticker := time.NewTicker(h.revalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepOnce(ctx)
		}
	}
}

func (h *Hub) sweepOnce(ctx context.Context) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.verified {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if _, err := h.verifier.VerifyAccess(ctx, c.token); err != nil {
			h.log.Info(ctx, "revalidation failed, disconnecting", "conn_id", c.id, "user_id", c.identity, "error", err)
			c.send(wire.KindTokenExpired, 0, &wire.TokenExpiredPayload{Reason: userFacing(err)})
			c.netConn.Close()
		}
	}
}

// dropConn tears a connection down: presence detach, registry removal, and
// the offline/device broadcasts. Safe to call for connections that never
// finished the handshake.
func (h *Hub) dropConn(ctx context.Context, c *conn) {
	c.netConn.Close()

	h.mu.Lock()
	_, registered := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	if !registered || !c.authenticated() {
		return
	}

	last := h.presence.Detach(c.identity, c.id)

	for _, connID := range h.presence.Targets(c.identity, "") {
		h.Send(connID, wire.KindDeviceDisconnected, &wire.DeviceDisconnectedPayload{Device: c.device})
	}
	if last {
		h.broadcastAll("", wire.KindUserOffline, &wire.UserOfflinePayload{UserID: c.identity})
	}

	h.log.Info(ctx, "connection dropped", "conn_id", c.id, "user_id", c.identity)
}

func (h *Hub) broadcastAll(exceptConnID string, kind wire.Kind, payload any) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.id != exceptConnID {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(kind, 0, payload); err != nil {
			h.log.Debug(context.Background(), "broadcast send failed", "conn_id", c.id, "error", err)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.netConn.Close()
	}
}

func (h *Hub) sendErr(c *conn, reqID uint64, kind wire.Kind, payload any) {
	if err := c.send(kind, reqID, payload); err != nil {
		h.log.Debug(context.Background(), "error send failed", "conn_id", c.id, "error", err)
	}
}

func (h *Hub) sendCallErr(c *conn, reqID uint64, callID string, err error) {
	h.sendErr(c, reqID, wire.KindCallError, &wire.CallErrorPayload{
		CallID: callID,
		Code:   callsig.MapError(err),
		Error:  userFacing(err),
	})
}

func callOrigin(c *conn) callsig.Origin {
	return callsig.Origin{ConnID: c.id, Identity: c.identity}
}

func authErrorPayload(err error) *wire.AuthErrorPayload {
	code := wire.AuthCodeTokenInvalid
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		code = wire.AuthCodeTokenExpired
	case errors.Is(err, common.ErrSessionRevoked):
		code = wire.AuthCodeSessionRevoked
	}
	return &wire.AuthErrorPayload{Code: code, Error: userFacing(err)}
}

// userFacing strips internals out of errors shown to clients. Sentinels are
// already clean; anything else collapses to a generic message.
func userFacing(err error) string {
	for _, sentinel := range []error{
		common.ErrorValidation, common.ErrorNotFound, common.ErrorAlreadyExists,
		common.ErrorUnauthorized, common.ErrSpoofedActor, common.ErrUserOffline,
		common.ErrCallEnded, common.ErrNotInCall, common.ErrTokenExpired,
		common.ErrInvalidToken, common.ErrSessionRevoked,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

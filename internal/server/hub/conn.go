package hub

import (
	"net"
	"sync"
	"time"

	"github.com/holamess/holamess/internal/wire"
)

// conn is one realtime connection. Identity, device, token and verified are
// written once during the handshake and never mutated afterwards; everything
// dispatched for this connection afterwards reads them without locking.
type conn struct {
	id      string
	netConn net.Conn

	identity        string
	device          string
	token           string
	verified        bool
	authenticatedAt time.Time

	// writeMu serializes frames: fan-out goroutines and the dispatch loop
	// both write to the same socket.
	writeMu sync.Mutex
}

func (c *conn) authenticated() bool {
	return c.identity != ""
}

// send frames one signal onto the socket. Errors are returned for the caller
// to decide whether the connection is dead; payload marshal failures are
// programming errors and surface the same way.
func (c *conn) send(kind wire.Kind, id uint64, payload any) error {
	env, err := wire.NewEnvelope(kind, id, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteEnvelope(c.netConn, env)
}

package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// relayConn is one websocket connection to a relay endpoint. Connections are
// best-effort: a failed dial or a broken read marks the endpoint disconnected
// without affecting the rest of the set.
type relayConn struct {
	url    string
	logger *zap.Logger

	mu        sync.Mutex // guards ws and serializes writes
	ws        *websocket.Conn
	connected atomic.Bool
}

func newRelayConn(url string, logger *zap.Logger) *relayConn {
	return &relayConn{url: url, logger: logger.With(zap.String("relay_url", url))}
}

// dial establishes the websocket connection.
func (c *relayConn) dial(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("relay connected")
	return nil
}

// write sends one text frame. Returns an error when the endpoint is
// disconnected or the write fails; failed writes mark the endpoint
// disconnected.
func (c *relayConn) write(ctx context.Context, data []byte) error {
	if !c.connected.Load() {
		return errNotConnected
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.markDisconnected()
		return err
	}
	return nil
}

// read blocks for the next text frame.
func (c *relayConn) read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil, errNotConnected
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		c.markDisconnected()
		return nil, err
	}
	return data, nil
}

func (c *relayConn) markDisconnected() {
	if c.connected.Swap(false) {
		c.logger.Warn("relay disconnected")
	}
}

// close shuts the connection down.
func (c *relayConn) close() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.connected.Store(false)
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/stablezoo/internal/adapters/mq/queue"
	"github.com/okian/stablezoo/pkg/logger"
)

const maxFrameSize = 4096

// FrameHandler consumes client frames read from a connection.
type FrameHandler interface {
	HandleFrame(ctx context.Context, data []byte)
}

// Conn is one registered client. Broadcasts and replies are queued
// separately and drained by the connection's own writer, replies first.
type Conn struct {
	id        string
	createdAt time.Time
	events    *queue.Outbox
	replies   *queue.Outbox
	lastPong  atomic.Int64
	registry  *Registry

	releaseOnce sync.Once
	done        chan struct{}
	closeCode   int
	closeText   string
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// CreatedAt returns when the connection was registered.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// LastPong returns when the client last answered a ping, or CreatedAt
// before the first pong.
func (c *Conn) LastPong() time.Time { return time.Unix(0, c.lastPong.Load()) }

// Pending returns the number of queued broadcasts and replies.
func (c *Conn) Pending() (events, replies int) {
	return c.events.Len(), c.replies.Len()
}

// Reply queues a message for this connection only.
func (c *Conn) Reply(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if !c.replies.Enqueue(data) {
		return ErrConnClosed
	}
	return nil
}

// Done is closed once the connection is released.
func (c *Conn) Done() <-chan struct{} { return c.done }

// release closes both queues and tells the writer to send a close frame
// with code and text. Anything still queued is discarded.
func (c *Conn) release(code int, text string) {
	c.releaseOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		_ = c.events.Close()
		_ = c.replies.Close()
		close(c.done)
	})
}

func (c *Conn) released() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Serve runs the writer and the reader for ws until either fails, the
// client leaves, or the connection is released. It always unregisters the
// connection before returning.
func (c *Conn) Serve(ctx context.Context, ws *websocket.Conn, h FrameHandler) {
	ctx, cancel := context.WithCancel(ctx)
	log := c.registry.logger

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(ctx, ws); err != nil {
			log.Debug(ctx, "writer stopped", logger.String("conn", c.id), logger.Error(err))
		}
		// unblocks the reader
		_ = ws.Close()
	}()

	err := c.readLoop(ctx, ws, h)
	code, text := closeFor(err)
	if err != nil {
		log.Debug(ctx, "reader stopped",
			logger.String("conn", c.id),
			logger.Duration("since_pong", time.Since(c.LastPong())),
			logger.Error(err))
	}
	// Released before cancel so the writer still says goodbye.
	c.registry.unregister(c.id, code, text)
	cancel()
	wg.Wait()
	_ = ws.Close()
}

// closeFor picks the close frame for a reader that stopped with err.
func closeFor(err error) (int, string) {
	var ne net.Error
	switch {
	case err == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(err, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig, "message too big"
	case errors.As(err, &ne) && ne.Timeout():
		return websocket.CloseNormalClosure, "ping timeout"
	default:
		return websocket.CloseNormalClosure, ""
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, h FrameHandler) error {
	timeout := 2 * c.registry.pingInterval

	ws.SetReadLimit(maxFrameSize)
	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		now := time.Now()
		c.lastPong.Store(now.UnixNano())
		return ws.SetReadDeadline(now.Add(timeout))
	})

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.HandleFrame(ctx, data)
	}
}

func (c *Conn) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(c.registry.pingInterval)
	defer ticker.Stop()

	replies, events := c.replies.C(), c.events.C()
	for {
		// Closed queues still yield what they hold; a released connection
		// sends none of it.
		if c.released() {
			return c.goodbye(ws)
		}

		// Replies go out before any queued broadcast.
		select {
		case msg := <-replies:
			if err := c.deliver(ws, msg); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.goodbye(ws)
		case msg := <-replies:
			if err := c.deliver(ws, msg); err != nil {
				return err
			}
		case msg := <-events:
			if err := c.deliver(ws, msg); err != nil {
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.registry.writeTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// deliver writes msg unless the connection was released meanwhile. A nil
// msg comes from a closed queue and is skipped.
func (c *Conn) deliver(ws *websocket.Conn, msg []byte) error {
	if msg == nil || c.released() {
		return nil
	}
	return c.write(ws, msg)
}

func (c *Conn) write(ws *websocket.Conn, msg []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(c.registry.writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, msg)
}

// goodbye sends the close frame chosen when the connection was released.
func (c *Conn) goodbye(ws *websocket.Conn) error {
	deadline := time.Now().Add(c.registry.writeTimeout)
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

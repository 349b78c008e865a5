// README: Thread-safe WebSocket connection with read/write pumps.
package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is invoked for every inbound client message.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// CloseHandler is invoked exactly once when the connection terminates.
type CloseHandler func(connID uuid.UUID, err error)

type Config struct {
	ReadTimeout time.Duration
}

// Conn wraps a single WebSocket connection. Writes go through a buffered
// send channel so Send is safe for concurrent use and never blocks the
// broadcast path on a slow client.
type Conn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	config Config
	send   chan []byte

	onMessage MessageHandler
	onClose   CloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConn(parentCtx context.Context, wg *sync.WaitGroup, ws *websocket.Conn, config Config, logger *slog.Logger) *Conn {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parentCtx)
	// Counted from construction so a connection closed before Run still
	// balances the shutdown WaitGroup.
	wg.Add(1)

	return &Conn{
		id:     id,
		ws:     ws,
		config: config,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		wg:     wg,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

func (c *Conn) SetOnMessage(h MessageHandler) { c.onMessage = h }
func (c *Conn) SetOnClose(h CloseHandler)     { c.onClose = h }

func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()
}

func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.ws.Reader(readCtx)
		if err != nil {
			readErr = err
			cancelRead()
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			readErr = err
			cancelRead()
			return
		}
		cancelRead()
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

func (c *Conn) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.ws.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.ws.Close(websocket.StatusNormalClosure, "shutting down")
			return
		}
	}
}

// Send queues a message for delivery. Safe for concurrent use at any point
// in the connection's life, including during and after Close; a message sent
// to a closing connection is dropped. The send channel is never closed for
// that reason, context cancellation alone stops the pumps.
func (c *Conn) Send(message []byte) {
	select {
	case <-c.ctx.Done():
	case c.send <- message:
	}
}

// Close tears the connection down exactly once and notifies the owner.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.logger.Debug("connection closed", slog.Any("reason", err))
		c.wg.Done()
		close(c.done)
	})
}

// Done is closed once the connection is fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) ID() uuid.UUID {
	return c.id
}

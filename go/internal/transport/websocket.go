package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/peersync"
)

// WebSocketChannel is the device side of a relay connection. It implements
// peersync.Channel.
type WebSocketChannel struct {
	ID     string
	Device string

	conn   *websocket.Conn
	send   chan []byte
	config ConnectionConfig

	mu      sync.RWMutex
	handler peersync.Handler

	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to the relay at relayURL and joins the pairing as
// device.
func DialWebSocket(ctx context.Context, relayURL string, pairingID uuid.UUID, device string, config ConnectionConfig) (*WebSocketChannel, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("pairing_id", pairingID.String())
	q.Set("device", device)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: config.WriteTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &WebSocketChannel{
		ID:     uuid.New().String(),
		Device: device,
		conn:   conn,
		send:   make(chan []byte, config.SendBufferSize),
		config: config,
		done:   make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("pairing_id", pairingID.String()).
		Str("device", device).
		Str("relay", u.Host).
		Msg("connected to relay")

	return c, nil
}

// Send queues a message for the write pump.
func (c *WebSocketChannel) Send(ctx context.Context, msg peersync.Message) error {
	data, err := peersync.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return peersync.ErrChannelClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return peersync.ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("queue message: %w", ctx.Err())
	}
}

func (c *WebSocketChannel) OnReceive(handler peersync.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Done is closed once the connection is gone.
func (c *WebSocketChannel) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down. It is safe to call more than once.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// writePump owns all writes to the connection.
func (c *WebSocketChannel) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Close()
				return
			}
		}
	}
}

func (c *WebSocketChannel) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		msg, err := peersync.Decode(data)
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping undecodable frame")
			continue
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}

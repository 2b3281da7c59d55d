package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/groutine"
	"github.com/srg/shotbridge/internal/message"
	"github.com/srg/shotbridge/internal/ringchan"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may subscribe, matching the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is a hub subscriber backed by one WebSocket connection.
// Send only enqueues; a dedicated writer goroutine owns the connection's
// write side.
type wsClient struct {
	id           string
	conn         *websocket.Conn
	queue        *ringchan.RingChannel[[]byte]
	writeTimeout time.Duration
	logger       *logrus.Entry

	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, queueSize int, writeTimeout time.Duration, logger *logrus.Logger) *wsClient {
	id := uuid.NewString()
	return &wsClient{
		id:           id,
		conn:         conn,
		queue:        ringchan.New[[]byte](queueSize),
		writeTimeout: writeTimeout,
		logger:       logger.WithField("subscriber", id),
	}
}

func (c *wsClient) ID() string {
	return c.id
}

// Send encodes msg and queues it. A full queue means the client cannot keep
// up and is reported as a delivery failure.
func (c *wsClient) Send(msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return c.queue.TrySend(data)
}

// Close stops the writer after it flushes what is already queued.
func (c *wsClient) Close() error {
	c.closeOnce.Do(c.queue.Close)
	return nil
}

// writeLoop drains the queue onto the socket and pings the peer.
func (c *wsClient) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.queue.C():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithField("error", err).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop discards inbound frames until the peer goes away.
func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		s.logger.WithField("error", err).Debug("WebSocket upgrade failed")
		return
	}

	client := newWSClient(conn, s.opts.ClientQueue, s.opts.WriteTimeout, s.logger)
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	writerDone := groutine.Go(ctx, "ws-writer:"+client.id, client.writeLoop)

	if err := s.deps.Hub.Subscribe(client); err != nil {
		client.logger.WithField("error", err).Warn("Subscribe failed")
		_ = client.Close()
		<-writerDone
		return
	}

	client.readLoop()

	s.deps.Hub.Unsubscribe(client)
	_ = client.Close()
	cancel()
	<-writerDone
}

package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live WebSocket connection. Its queue is written only by the
// hub and drained only by writePump.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	log            *logrus.Entry
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
}

// NewClient wraps an upgraded connection. The hub's limits are applied to it.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	id := ulid.Make().String()
	if conn != nil {
		conn.SetReadLimit(hub.opts.MaxMessageSize)
	}

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		log:            hub.log.WithFields(logrus.Fields{"client_id": id, "remote_addr": addr}),
		maxMessageSize: hub.opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(hub.opts.RateLimit),
		rateLimit:      hub.opts.RateLimit,
	}
}

// ID returns the connection's opaque identifier.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Debug("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError reports why the read loop ended, at a level that matches how
// unusual the cause is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.maxMessageSize).Warn("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug("Client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.WithError(err).Debug("Client connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.WithError(err).Warn("Unexpected WebSocket close")
	default:
		c.log.WithError(err).Info("WebSocket read error")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.WithFields(logrus.Fields{
			"burst":    c.rateLimit.Burst,
			"interval": c.rateLimit.RefillInterval.String(),
		}).Warn("Rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage parses a frame and hands it to the hub. A malformed frame
// ends this connection only.
func (c *Client) processMessage(raw []byte) bool {
	msg, err := history.ParseMessage(raw)
	if err != nil {
		c.log.WithError(err).Warn("Closing connection after malformed message")
		closeMsg := websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed message")
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		return false
	}
	return c.hub.submitInbound(inboundMessage{sender: c, msg: msg})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.submitUnregister(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(raw) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// stopReading makes a blocked ReadMessage return at once.
func (c *Client) stopReading() {
	if c.conn == nil {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now()); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error expiring read deadline")
	}
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error closing connection")
	}
}

// handleMessage writes one queued frame, or the close frame once the hub has
// closed the queue.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Debug("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Info("Error writing message")
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("Error writing ping message")
		return false
	}
	return true
}

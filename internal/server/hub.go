package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatdrop/internal/config"
	"github.com/Tyrowin/chatdrop/internal/history"
)

// sendBufferSize is the per-client outbound queue. A client whose queue is
// full is evicted instead of stalling the hub.
const sendBufferSize = 256

// HubOptions carries the per-connection limits handed to every client.
type HubOptions struct {
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
}

// Hub owns the set of live connections and the History Log. Every state
// transition happens inside Run, one event at a time.
type Hub struct {
	history *history.Log
	opts    HubOptions
	log     *logrus.Entry

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	// mutex guards clients for readers outside Run (ClientCount).
	mutex sync.RWMutex
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub bound to log. The hub does nothing until Run is called.
func NewHub(log *history.Log, opts HubOptions, logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = config.DefaultMaxMessageSize.Int64()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		history:    log,
		opts:       opts,
		log:        logger.WithField("component", "hub"),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// History returns the log the hub appends to.
func (h *Hub) History() *history.Log {
	return h.history
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a freshly upgraded connection to the hub. It returns false
// once the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) submitUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submitInbound(m inboundMessage) bool {
	select {
	case h.inbound <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			if h.detach(client) {
				h.log.WithFields(logrus.Fields{
					"client_id": client.id,
					"clients":   h.ClientCount(),
				}).Info("Client unregistered")
				h.fanOut(encodeNotice(leaveNotice), nil)
			}

		case in := <-h.inbound:
			h.handleInbound(in)
		}
	}
}

// handleRegister replays history to the new client, then tells everyone else.
func (h *Hub) handleRegister(client *Client) {
	replay, err := encodeHistory(h.history.Replay())
	if err != nil {
		h.log.WithError(err).Error("Failed to encode history replay")
		client.closeConn()
		return
	}
	// The queue is empty, so the replay is always the first frame.
	client.send <- replay

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mutex.Unlock()

	h.log.WithFields(logrus.Fields{
		"client_id":   client.id,
		"remote_addr": client.addr,
		"clients":     count,
	}).Info("Client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()

	h.fanOut(encodeNotice(joinNotice), client)
}

// handleInbound makes a message durable and only then shows it to anyone.
// Frames still buffered by a client that was already removed are dropped.
func (h *Hub) handleInbound(in inboundMessage) {
	if _, ok := h.clients[in.sender]; !ok {
		h.log.WithField("client_id", in.sender.id).Debug("Dropping message from unregistered client")
		return
	}

	stamped, err := h.history.Append(h.ctx, in.msg)
	if err != nil {
		h.log.WithError(err).WithField("client_id", in.sender.id).Error("Dropping message that could not be persisted")
		return
	}

	payload, err := json.Marshal(stamped)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode message")
		return
	}
	h.fanOut(payload, nil)
}

type delivery struct {
	payload []byte
	except  *Client
}

// fanOut queues payload on every registered client except one. Clients whose
// queue is full are evicted and their departure is announced in turn.
func (h *Hub) fanOut(payload []byte, except *Client) {
	pending := []delivery{{payload: payload, except: except}}

	for len(pending) > 0 {
		d := pending[0]
		pending = pending[1:]

		for client := range h.clients {
			if client == d.except {
				continue
			}
			select {
			case client.send <- d.payload:
			default:
				if h.detach(client) {
					h.log.WithField("client_id", client.id).Warn("Client removed due to full send buffer")
					pending = append(pending, delivery{payload: encodeNotice(leaveNotice)})
				}
			}
		}
	}
}

// detach removes a client, closes its queue so its write pump sends a close
// frame, and stops its read pump. It reports whether the client was registered.
func (h *Hub) detach(client *Client) bool {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mutex.Unlock()

	if ok {
		close(client.send)
		client.stopReading()
	}
	return ok
}

// shutdownClients closes all active client connections. Closing the queues
// releases the write pumps without waiting for their next ping.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		client.closeConn()
	}
	h.log.WithField("clients", len(clients)).Info("Closed client connections")
}

// Shutdown stops Run, closes every connection and waits for the client
// goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")
	h.cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-h.done:
	case <-deadline.C:
		h.log.Warn("Hub event loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-deadline.C:
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

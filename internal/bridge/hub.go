package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"batchvec/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 20
	sendBuffer     = 64
)

// Handler processes inbound messages from the extension and popups. The
// returned value is sent back as the reply data.
type Handler interface {
	Handle(ctx context.Context, msgType string, data json.RawMessage) (any, error)
}

// Options configures a Hub.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Hub tracks connected clients and correlates requests with replies.
type Hub struct {
	logger   *slog.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	handler   Handler
	extension *client
	popups    map[*client]struct{}

	pendingMu sync.Mutex
	pending   map[string]chan Envelope
}

// NewHub constructs a hub. SetHandler must be called before clients send
// commands.
func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:  logging.NewComponentLogger(opts.Logger, "bridge"),
		timeout: opts.RequestTimeout,
		ctx:     ctx,
		cancel:  cancel,
		popups:  make(map[*client]struct{}),
		pending: make(map[string]chan Envelope),
	}
	if h.timeout <= 0 {
		h.timeout = 20 * time.Second
	}
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[strings.ToLower(origin)] = struct{}{}
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[strings.ToLower(r.Header.Get("Origin"))]
			return ok
		},
	}
	return h
}

// SetHandler installs the inbound message handler.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role")))
	if role == "" {
		role = RolePopup
	}
	if role != RoleExtension && role != RolePopup {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			logging.String(logging.FieldEventType, "ws_upgrade_failed"),
			logging.String("origin", r.Header.Get("Origin")),
			logging.Error(err),
		)
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		role: role,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	var replaced *client
	if c.role == RoleExtension {
		replaced = h.extension
		h.extension = c
	} else {
		h.popups[c] = struct{}{}
	}
	h.mu.Unlock()

	h.logger.Info("client connected",
		logging.String(logging.FieldEventType, "ws_connected"),
		logging.String("role", c.role),
		logging.String("client_id", c.id),
	)
	if replaced != nil {
		h.logger.Info("newer extension connection replaces older one",
			logging.String("client_id", replaced.id),
		)
		replaced.close()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.extension == c {
		h.extension = nil
	}
	delete(h.popups, c)
	h.mu.Unlock()
	c.close()
	h.logger.Info("client disconnected",
		logging.String(logging.FieldEventType, "ws_disconnected"),
		logging.String("role", c.role),
		logging.String("client_id", c.id),
	)
}

// ExtensionConnected reports whether an extension relay is attached.
func (h *Hub) ExtensionConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.extension != nil
}

// PopupCount returns the number of connected popups.
func (h *Hub) PopupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.popups)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	clients := make([]*client, 0, len(h.popups)+1)
	if h.extension != nil {
		clients = append(clients, h.extension)
	}
	for c := range h.popups {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

// request sends op to the extension and waits for its reply.
func (h *Hub) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	h.mu.RLock()
	ext := h.extension
	h.mu.RUnlock()
	if ext == nil {
		return nil, ErrNoExtension
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op, err)
	}
	id := uuid.NewString()
	replyCh := make(chan Envelope, 1)
	h.pendingMu.Lock()
	h.pending[id] = replyCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	if err := ext.enqueue(Envelope{Type: op, ID: id, Data: data}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		if reply.Error != "" {
			return nil, &RemoteError{Op: op, Message: reply.Error}
		}
		return reply.Data, nil
	case <-ext.done:
		return nil, ErrNoExtension
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", op, ErrTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTimeout, ctx.Err())
	case <-h.ctx.Done():
		return nil, ErrNoExtension
	}
}

func (h *Hub) resolve(env Envelope) {
	h.pendingMu.Lock()
	ch, ok := h.pending[env.ID]
	h.pendingMu.Unlock()
	if !ok {
		h.logger.Debug("reply for unknown request", logging.String("id", env.ID))
		return
	}
	select {
	case ch <- env:
	default:
	}
}

// dispatch hands an inbound message to the handler and replies when the
// sender supplied an id.
func (h *Hub) dispatch(from *client, env Envelope) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	ctx := logging.WithRequestID(h.ctx, env.ID)
	if ackFirst[env.Type] && env.ID != "" {
		ack, _ := json.Marshal(map[string]any{"received": true, "timestamp": time.Now().UnixMilli()})
		_ = from.enqueue(Envelope{Type: typeReply, ID: env.ID, Data: ack})
	}
	if handler == nil {
		if env.ID != "" && !ackFirst[env.Type] {
			_ = from.enqueue(Envelope{Type: typeReply, ID: env.ID, Error: "daemon not ready"})
		}
		return
	}

	result, err := handler.Handle(ctx, env.Type, env.Data)
	if env.ID == "" || ackFirst[env.Type] {
		if err != nil {
			h.logger.Warn("message handling failed",
				logging.String(logging.FieldEventType, "ws_message_failed"),
				logging.String("type", env.Type),
				logging.Error(err),
			)
		}
		return
	}
	reply := Envelope{Type: typeReply, ID: env.ID}
	if err != nil {
		reply.Error = err.Error()
	} else if result != nil {
		data, encErr := json.Marshal(result)
		if encErr != nil {
			reply.Error = encErr.Error()
		} else {
			reply.Data = data
		}
	}
	_ = from.enqueue(reply)
}

func (h *Hub) broadcastToPopups(env Envelope) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.popups))
	for c := range h.popups {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if err := c.enqueue(env); err != nil {
			h.logger.Debug("popup dropped update", logging.String("client_id", c.id), logging.Error(err))
		}
	}
}

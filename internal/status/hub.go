package status

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/observability"
)

// SnapshotSource produces the payload for a periodic broadcast. Returning an
// error skips the tick; the next tick retries.
type SnapshotSource func(ctx context.Context) (any, error)

// connection is one WebSocket client. Connections are identified by a
// stable uuid so duplicate tabs from the same client count separately.
type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub maintains the set of open client connections and broadcasts status
// envelopes to all of them. Slow or failing clients are dropped rather than
// allowed to stall the rest.
type Hub struct {
	log          *slog.Logger
	writeTimeout time.Duration
	snapshotTick time.Duration

	mu    sync.RWMutex
	conns map[string]*connection

	// deltas coalesces per-recording processing updates.
	deltas *debouncer

	sourceMu    sync.RWMutex
	activeSrc   SnapshotSource
	queueSrc    SnapshotSource
	lastActive  []byte
	lastQueue   []byte
}

// NewHub creates a Hub. Processing-state deltas are debounced by
// cfg.Debounce (default 150 ms) keyed by recording id.
func NewHub(cfg config.StatusConfig, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	snapshotTick := cfg.SnapshotInterval
	if snapshotTick <= 0 {
		snapshotTick = 10 * time.Second
	}

	h := &Hub{
		log:          observability.WithComponent(log, "status"),
		writeTimeout: writeTimeout,
		snapshotTick: snapshotTick,
		conns:        make(map[string]*connection),
	}
	h.deltas = newDebouncer(debounce, func(_ string, data any) {
		h.Broadcast(TypeProcessingStatus, data)
	})
	return h
}

// SetActiveRecordingsSource wires the periodic active-recordings payload.
func (h *Hub) SetActiveRecordingsSource(src SnapshotSource) {
	h.sourceMu.Lock()
	defer h.sourceMu.Unlock()
	h.activeSrc = src
}

// SetQueueStatsSource wires the periodic queue occupancy payload.
func (h *Hub) SetQueueStatsSource(src SnapshotSource) {
	h.sourceMu.Lock()
	defer h.sourceMu.Unlock()
	h.queueSrc = src
}

// HandleConnection owns one client from upgrade to close. It sends the
// greeting, then blocks draining reads until the client disconnects or the
// context is cancelled.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.conns[c.id] = c
	count := len(h.conns)
	h.mu.Unlock()

	h.log.Debug("client connected",
		slog.String("connection_id", c.id),
		slog.Int("connections", count))

	h.send(c, Envelope{
		Type: TypeConnectionStatus,
		Data: map[string]any{
			"connection_id": c.id,
			"connections":   count,
		},
		Timestamp: time.Now().UTC(),
	})

	defer h.drop(c)

	// Clients never send application messages; the read loop exists only
	// to observe the close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends an envelope to every connection. Connections whose write
// fails or times out are dropped and closed.
func (h *Hub) Broadcast(envType string, data any) {
	env := Envelope{Type: envType, Data: data, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.send(c, env)
	}
}

// BroadcastProcessingDelta queues a per-recording processing update through
// the debounce window; within one window the last delta wins.
func (h *Hub) BroadcastProcessingDelta(recordingID string, data any) {
	h.deltas.update(recordingID, data)
}

// BroadcastToast sends a user-visible failure notification immediately.
func (h *Hub) BroadcastToast(toast Toast) {
	h.Broadcast(TypeToast, toast)
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Run drives the periodic snapshot loop until the context is cancelled.
// Snapshots that have not changed since the previous send are skipped.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.snapshotTick)
	defer ticker.Stop()
	defer h.deltas.stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.emitSnapshots(ctx)
		}
	}
}

func (h *Hub) emitSnapshots(ctx context.Context) {
	h.sourceMu.RLock()
	activeSrc, queueSrc := h.activeSrc, h.queueSrc
	h.sourceMu.RUnlock()

	if activeSrc != nil {
		if data, changed := h.snapshot(ctx, activeSrc, &h.lastActive); changed {
			h.Broadcast(TypeActiveRecordingsUpdate, data)
		}
	}
	if queueSrc != nil {
		if data, changed := h.snapshot(ctx, queueSrc, &h.lastQueue); changed {
			h.Broadcast(TypeQueueStatsUpdate, data)
		}
	}
}

// snapshot evaluates a source and reports whether its serialised form
// differs from the last sent one.
func (h *Hub) snapshot(ctx context.Context, src SnapshotSource, last *[]byte) (any, bool) {
	data, err := src(ctx)
	if err != nil {
		h.log.Warn("snapshot source failed", slog.Any("error", err))
		return nil, false
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Warn("snapshot marshal failed", slog.Any("error", err))
		return nil, false
	}

	h.sourceMu.Lock()
	defer h.sourceMu.Unlock()
	if bytes.Equal(*last, raw) {
		return nil, false
	}
	*last = raw
	return data, true
}

func (h *Hub) send(c *connection, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		h.log.Error("envelope marshal failed", slog.Any("error", err))
		return
	}

	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, raw); err != nil {
		h.log.Debug("dropping client after failed send",
			slog.String("connection_id", c.id),
			slog.Any("error", err))
		h.drop(c)
	}
}

func (h *Hub) drop(c *connection) {
	h.mu.Lock()
	_, present := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	if present {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		h.log.Debug("client disconnected", slog.String("connection_id", c.id))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.conns = make(map[string]*connection)
	h.mu.Unlock()

	for _, c := range targets {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

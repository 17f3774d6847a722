package ws

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hidden-walnuts/server/internal/net/proto"
	"hidden-walnuts/server/internal/npc"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/network"
)

const (
	DefaultBroadcastInterval = 100 * time.Millisecond
	defaultWriteTimeout      = 2 * time.Second

	broadcastMetricKey      = "ws_broadcast_total"
	broadcastBytesMetricKey = "ws_broadcast_bytes_total"
	subscribersMetricKey    = "ws_subscribers"
	droppedMetricKey        = "ws_subscriber_dropped_total"
)

// conn is the part of *websocket.Conn the hub writes through.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber serialises writes to one viewer connection.
type subscriber struct {
	playerID       string
	conn           conn
	writeMu        sync.Mutex
	writeTimeout   time.Duration
	lastCommandSeq atomic.Uint64
}

func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) LastCommandSeq() uint64 { return s.lastCommandSeq.Load() }

func (s *subscriber) StoreLastCommandSeq(seq uint64) { s.lastCommandSeq.Store(seq) }

// HubConfig tunes the broadcast hub.
type HubConfig struct {
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Publisher    logging.Publisher
	Tick         func() uint64
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Hub mirrors NPC entity state to connected viewers. It implements
// npc.EntitySink: pushes from the simulation only mark entities dirty, and
// Flush sends the accumulated changes as one message.
type Hub struct {
	logger       telemetry.Logger
	metrics      telemetry.Metrics
	publisher    logging.Publisher
	tick         func() uint64
	writeTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	entities    map[string]npc.EntityState
	dirty       map[string]struct{}
	removed     map[string]struct{}
	subscribers map[*subscriber]struct{}
	seq         uint64
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Tick == nil {
		cfg.Tick = func() uint64 { return 0 }
	}
	return &Hub{
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		publisher:    cfg.Publisher,
		tick:         cfg.Tick,
		writeTimeout: cfg.WriteTimeout,
		now:          cfg.Now,
		entities:     make(map[string]npc.EntityState),
		dirty:        make(map[string]struct{}),
		removed:      make(map[string]struct{}),
		subscribers:  make(map[*subscriber]struct{}),
	}
}

func (h *Hub) UpsertEntity(state npc.EntityState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entities[state.ID] = state
	h.dirty[state.ID] = struct{}{}
	delete(h.removed, state.ID)
}

func (h *Hub) RemoveEntity(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.entities[id]; !ok {
		return
	}
	delete(h.entities, id)
	delete(h.dirty, id)
	h.removed[id] = struct{}{}
}

// Entities returns the mirrored state sorted by id.
func (h *Hub) Entities() []npc.EntityState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entitiesLocked()
}

func byID(a, b npc.EntityState) int { return cmp.Compare(a.ID, b.ID) }

func (h *Hub) entitiesLocked() []npc.EntityState {
	out := make([]npc.EntityState, 0, len(h.entities))
	for _, state := range h.entities {
		out = append(out, state)
	}
	slices.SortFunc(out, byID)
	return out
}

// Subscribers reports the number of connected viewers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// subscribe registers c and returns the entity snapshot it should start
// from. Changes after the snapshot arrive through Flush.
func (h *Hub) subscribe(playerID string, c conn) (*subscriber, []npc.EntityState) {
	sub := &subscriber{playerID: playerID, conn: c, writeTimeout: h.writeTimeout}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	viewers := len(h.subscribers)
	h.metrics.Store(subscribersMetricKey, uint64(viewers))
	snapshot := h.entitiesLocked()
	h.mu.Unlock()
	network.ViewerConnected(context.Background(), h.publisher, h.tick(), playerID, network.ViewerPayload{Viewers: viewers})
	return sub, snapshot
}

func (h *Hub) unsubscribe(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	h.metrics.Store(subscribersMetricKey, uint64(len(h.subscribers)))
	return true
}

// Flush broadcasts pending changes to every subscriber and returns the
// number of viewers reached. Viewers whose write fails are dropped.
func (h *Hub) Flush() int {
	h.mu.Lock()
	if len(h.dirty) == 0 && len(h.removed) == 0 {
		h.mu.Unlock()
		return 0
	}
	upserts := make([]npc.EntityState, 0, len(h.dirty))
	for id := range h.dirty {
		upserts = append(upserts, h.entities[id])
	}
	slices.SortFunc(upserts, byID)
	removed := make([]string, 0, len(h.removed))
	for id := range h.removed {
		removed = append(removed, id)
	}
	slices.Sort(removed)
	clear(h.dirty)
	clear(h.removed)
	h.seq++
	msg := proto.NewEntities(h.seq, h.now(), upserts, removed)
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[ws] failed to marshal entity broadcast: %v", err)
		return 0
	}
	sent := 0
	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			if h.unsubscribe(sub) {
				h.metrics.Add(droppedMetricKey, 1)
				h.logger.Printf("[ws] dropping viewer %s after write failure: %v", sub.playerID, err)
				network.ViewerDropped(context.Background(), h.publisher, h.tick(), sub.playerID, network.ViewerPayload{
					Viewers: h.Subscribers(),
					Reason:  err.Error(),
				})
			}
			sub.conn.Close()
			continue
		}
		sent++
	}
	h.metrics.Add(broadcastMetricKey, 1)
	h.metrics.Add(broadcastBytesMetricKey, uint64(len(data)*sent))
	return sent
}

// Run flushes on a fixed interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Flush()
		}
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	clear(h.subscribers)
	h.metrics.Store(subscribersMetricKey, 0)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		sub.conn.Close()
	}
}

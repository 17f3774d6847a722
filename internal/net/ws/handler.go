package ws

import (
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hidden-walnuts/server/internal/net/intake"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/logging"
)

const maxMessageBytes = 4096

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	// Tick reports the current simulation tick for command stamping.
	Tick func() uint64
	Now  func() time.Time
}

// Handler upgrades viewer connections and runs their sessions.
type Handler struct {
	hub       *Hub
	loop      intake.Enqueuer
	logger    telemetry.Logger
	publisher logging.Publisher
	tick      func() uint64
	now       func() time.Time
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, loop intake.Enqueuer, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:       hub,
		loop:      loop,
		logger:    logger,
		publisher: publisher,
		tick:      cfg.Tick,
		now:       now,
		upgrader:  upgrader,
	}
}

// Handle upgrades the request. Viewers that do not pass ?id= get a
// generated player id.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		playerID = "player_" + uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	h.Serve(playerID, conn)
}

func (h *Handler) currentTick() uint64 {
	if h.tick == nil {
		return 0
	}
	return h.tick()
}

func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.Handle(w, r)
}

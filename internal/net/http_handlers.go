package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	"hidden-walnuts/server/internal/ai"
	"hidden-walnuts/server/internal/npc"
	"hidden-walnuts/server/internal/sim"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/internal/world"
)

const maxBodyBytes = 64 << 10

// PathStats exposes pathfinder counters. *world.Pathfinder satisfies it.
type PathStats interface {
	Stats() world.PathfinderStats
}

type HTTPHandlerConfig struct {
	// Loop serialises every Manager access.
	Loop       *sim.Loop
	Manager    *npc.Manager
	WebSocket  nethttp.Handler
	Viewers    func() int
	Counters   *telemetry.Counters
	Pathfinder PathStats
	TickRate   int
	ClientDir  string
	Logger     telemetry.Logger
}

type npcView struct {
	ID             string          `json:"id"`
	CharacterType  string          `json:"characterType"`
	Position       ai.Vec3         `json:"position"`
	Rotation       float64         `json:"rotation"`
	Velocity       ai.Vec3         `json:"velocity"`
	Behavior       ai.BehaviorType `json:"behavior"`
	BehaviorFocus  string          `json:"behaviorFocus,omitempty"`
	Energy         float64         `json:"energy"`
	Mood           float64         `json:"mood"`
	Health         float64         `json:"health"`
	SocialGroup    string          `json:"socialGroup,omitempty"`
	SpawnPointID   string          `json:"spawnPointId,omitempty"`
	PathLength     int             `json:"pathLength"`
}

func viewOf(n *ai.NPC) npcView {
	view := npcView{
		ID:            n.ID,
		CharacterType: n.CharacterType,
		Position:      n.Position,
		Rotation:      n.Rotation,
		Velocity:      n.Velocity,
		Behavior:      n.BehaviorType(),
		Energy:        n.Energy,
		Mood:          n.Mood,
		Health:        n.Health,
		SocialGroup:   n.SocialGroup,
		SpawnPointID:  n.SpawnPointID,
		PathLength:    len(n.Path),
	}
	if n.CurrentBehavior != nil {
		view.BehaviorFocus = n.CurrentBehavior.FocusID
	}
	return view
}

type spawnRequest struct {
	CharacterType string   `json:"characterType"`
	Position      *ai.Vec3 `json:"position"`
}

type configResponse struct {
	Config   npc.Config       `json:"config"`
	Rejected []npc.FieldError `json:"rejected,omitempty"`
}

type worldRequest struct {
	Weather   *string  `json:"weather"`
	TimeOfDay *float64 `json:"timeOfDay"`
}

// NewHTTPHandler builds the admin and viewer HTTP surface.
func NewHTTPHandler(cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	loop := cfg.Loop
	mgr := cfg.Manager

	mux := nethttp.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /npcs", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var views []npcView
		loop.Do(func() {
			all := mgr.AllNPCs()
			views = make([]npcView, 0, len(all))
			for _, n := range all {
				views = append(views, viewOf(n))
			}
		})
		writeJSON(w, logger, nethttp.StatusOK, struct {
			NPCs []npcView `json:"npcs"`
		}{NPCs: views})
	})

	mux.HandleFunc("GET /npcs/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := r.PathValue("id")
		var (
			view  npcView
			found bool
		)
		loop.Do(func() {
			if n, ok := mgr.NPC(id); ok {
				view, found = viewOf(n), true
			}
		})
		if !found {
			httpError(w, "unknown npc", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, view)
	})

	mux.HandleFunc("POST /npcs", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req spawnRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		if req.CharacterType == "" || req.Position == nil {
			httpError(w, "characterType and position are required", nethttp.StatusBadRequest)
			return
		}
		var (
			view    npcView
			spawned bool
		)
		loop.Do(func() {
			if n := mgr.SpawnNPC(req.CharacterType, *req.Position); n != nil {
				view, spawned = viewOf(n), true
			}
		})
		if !spawned {
			httpError(w, "spawn rejected", nethttp.StatusConflict)
			return
		}
		writeJSON(w, logger, nethttp.StatusCreated, view)
	})

	mux.HandleFunc("DELETE /npcs/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := r.PathValue("id")
		var found bool
		loop.Do(func() {
			if _, found = mgr.NPC(id); found {
				mgr.DespawnNPC(id)
			}
		})
		if !found {
			httpError(w, "unknown npc", nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("GET /metrics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var metrics npc.Metrics
		loop.Do(func() { metrics = mgr.Metrics() })
		writeJSON(w, logger, nethttp.StatusOK, metrics)
	})

	mux.HandleFunc("GET /config", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var cfg npc.Config
		loop.Do(func() { cfg = mgr.Config() })
		writeJSON(w, logger, nethttp.StatusOK, configResponse{Config: cfg})
	})

	mux.HandleFunc("POST /config", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var patch npc.ConfigPatch
		if err := decodeBody(w, r, &patch); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		var resp configResponse
		loop.Do(func() { resp.Config, resp.Rejected = mgr.UpdateConfig(patch) })
		for _, rejected := range resp.Rejected {
			logger.Printf("[config] ignored %s: %s", rejected.Field, rejected.Reason)
		}
		writeJSON(w, logger, nethttp.StatusOK, resp)
	})

	mux.HandleFunc("GET /world", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var state ai.WorldState
		loop.Do(func() { state = mgr.World() })
		writeJSON(w, logger, nethttp.StatusOK, state)
	})

	mux.HandleFunc("POST /world", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req worldRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		var weather ai.Weather
		if req.Weather != nil {
			parsed, ok := ai.ParseWeather(*req.Weather)
			if !ok {
				httpError(w, "unknown weather", nethttp.StatusBadRequest)
				return
			}
			weather = parsed
		}
		var state ai.WorldState
		loop.Do(func() {
			if weather != "" {
				mgr.SetWeather(weather)
			}
			if req.TimeOfDay != nil {
				mgr.SetTimeOfDay(*req.TimeOfDay)
			}
			state = mgr.World()
		})
		writeJSON(w, logger, nethttp.StatusOK, state)
	})

	mux.HandleFunc("GET /diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string                 `json:"status"`
			ServerTime int64                  `json:"serverTime"`
			Tick       uint64                 `json:"tick"`
			TickRate   int                    `json:"tickRate"`
			NPCs       int                    `json:"npcs"`
			Players    int                    `json:"players"`
			Viewers    int                    `json:"viewers"`
			Pending    int                    `json:"pendingCommands"`
			Telemetry  map[string]uint64      `json:"telemetry"`
			Pathfinder *world.PathfinderStats `json:"pathfinder,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       loop.Tick(),
			TickRate:   cfg.TickRate,
			Pending:    loop.Pending(),
			Telemetry:  cfg.Counters.Snapshot(),
		}
		loop.Do(func() {
			payload.NPCs = mgr.NPCCount()
			payload.Players = len(mgr.World().Players)
		})
		if cfg.Viewers != nil {
			payload.Viewers = cfg.Viewers()
		}
		if cfg.Pathfinder != nil {
			stats := cfg.Pathfinder.Stats()
			payload.Pathfinder = &stats
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	if cfg.WebSocket != nil {
		mux.Handle("GET /ws", cfg.WebSocket)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(nethttp.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}

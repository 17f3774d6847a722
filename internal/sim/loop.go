package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/simulation"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"

	DefaultTickRate = 60

	tickDurationMetricKey = "sim_tick_duration_micros"
	tickOverrunMetricKey  = "sim_tick_overrun_total"
	tickFailedMetricKey   = "sim_tick_failed_total"
)

// Engine is advanced once per tick. npc.Manager satisfies it.
type Engine interface {
	Update(ctx context.Context, dt float64)
}

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// LoopHooks lets callers observe the loop without wrapping it.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// LoopTickContext describes the tick about to run.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult summarises one executed tick.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Commands     int
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	Failed       bool
}

// Loop serialises every access to the engine. Ticks and callers of Do share
// one mutex.
type Loop struct {
	engine  Engine
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	deps    Deps
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu            sync.Mutex
	tick          uint64
	overrunStreak uint64

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps engine with a ring-buffer command queue and ticker.
func NewLoop(engine Engine, cfg LoopConfig, deps Deps, hooks LoopHooks) *Loop {
	if engine == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = 1024
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = logging.ClockFunc(time.Now)
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	return &Loop{
		engine:        engine,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		hooks:         hooks,
		config:        cfg,
		deps:          deps,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// Do runs fn while holding the simulation lock.
func (l *Loop) Do(fn func()) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Tick reports the number of executed ticks.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step: staged commands are published
// on the bus, then the engine is updated. A panicking engine is recovered
// and reported; the loop keeps running.
func (l *Loop) Advance(ctx context.Context, tc LoopTickContext) (result LoopStepResult) {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick = tc.Tick
	result = LoopStepResult{Tick: tc.Tick, Now: tc.Now, Delta: tc.Delta}
	for _, cmd := range commands {
		if publish(l.deps.Bus, cmd) {
			result.Commands++
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result.Failed = true
			l.metrics.Add(tickFailedMetricKey, 1)
			simulation.TickFailed(ctx, l.deps.Publisher, tc.Tick, simulation.TickFailedPayload{Error: fmt.Sprint(r)}, nil)
			l.logger.Printf("[sim] tick %d panicked: %v", tc.Tick, r)
		}
	}()
	l.engine.Update(ctx, tc.Delta)
	return result
}

// Run drives the fixed-timestep loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	clock := l.deps.Clock
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			simulation.LoopStopped(context.WithoutCancel(ctx), l.deps.Publisher, tick, simulation.LoopStoppedPayload{
				Ticks:  tick,
				Reason: context.Cause(ctx).Error(),
			}, nil)
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now
			tick++

			start := clock.Now()
			result := l.Advance(ctx, LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt
			l.observe(ctx, result)

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

// observe records tick timing and reports budget overruns. Consecutive
// overruns are reported at powers of two to keep the log readable.
func (l *Loop) observe(ctx context.Context, result LoopStepResult) {
	l.metrics.Store(tickDurationMetricKey, uint64(result.Duration.Microseconds()))
	if result.Budget <= 0 || result.Duration <= result.Budget {
		l.overrunStreak = 0
		return
	}
	l.overrunStreak++
	l.metrics.Add(tickOverrunMetricKey, 1)
	if l.overrunStreak&(l.overrunStreak-1) != 0 {
		return
	}
	durationMillis := float64(result.Duration) / float64(time.Millisecond)
	budgetMillis := float64(result.Budget) / float64(time.Millisecond)
	simulation.TickBudgetOverrun(ctx, l.deps.Publisher, result.Tick, simulation.TickBudgetOverrunPayload{
		DurationMillis: durationMillis,
		BudgetMillis:   budgetMillis,
		Ratio:          durationMillis / budgetMillis,
		Streak:         l.overrunStreak,
	}, nil)
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if count > 0 && count&(count-1) == 0 {
		l.logger.Printf(
			"[backpressure] dropping command actor=%s type=%s count=%d limit=%d reason=%s",
			cmd.ActorID,
			cmd.Type,
			count,
			l.config.PerActorLimit,
			reason,
		)
	}
}

package logging_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/sinks"
)

func closeRouter(t *testing.T, r *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}
}

func TestRouterDeliversAndFilters(t *testing.T) {
	mem := sinks.NewMemorySink(0)
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityInfo
	cfg.Fields = map[string]any{"service": "walnuts"}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	router := logging.NewRouter(logging.ClockFunc(func() time.Time { return fixed }), cfg, []logging.NamedSink{{Name: "memory", Sink: mem}}, nil)

	router.Publish(context.Background(), logging.Event{Type: "test.kept", Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "test.dropped", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityError})
	router.Publish(context.Background(), logging.Event{
		Type:     "test.override",
		Severity: logging.SeverityWarn,
		Extra:    map[string]any{"service": "custom"},
	})
	closeRouter(t, router)

	events := mem.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if !events[0].Time.Equal(fixed) {
		t.Fatalf("expected clock time to be stamped, got %v", events[0].Time)
	}
	if events[0].Extra["service"] != "walnuts" {
		t.Fatalf("expected router field, got %+v", events[0].Extra)
	}
	if events[1].Extra["service"] != "custom" {
		t.Fatalf("expected event field to win, got %+v", events[1].Extra)
	}
	if stats := router.Stats(); stats.EventsTotal != 2 {
		t.Fatalf("expected 2 routed events, got %+v", stats)
	}
	if router.Sink("memory") != mem {
		t.Fatalf("expected named sink lookup")
	}
}

func TestRouterPublishAfterCloseIsIgnored(t *testing.T) {
	mem := sinks.NewMemorySink(0)
	router := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: "memory", Sink: mem}}, nil)
	closeRouter(t, router)
	router.Publish(context.Background(), logging.Event{Type: "late", Severity: logging.SeverityError})
	if len(mem.Events()) != 0 {
		t.Fatalf("expected no events after close")
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

type failingSink struct {
	writes atomic.Int32
}

func (s *failingSink) Write(logging.Event) error {
	s.writes.Add(1)
	return errors.New("disk full")
}

func (s *failingSink) Close(context.Context) error { return nil }

func TestRouterCountsSinkFailures(t *testing.T) {
	failing := &failingSink{}
	router := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: "bad", Sink: failing}}, nil)
	router.Publish(context.Background(), logging.Event{Type: "x", Severity: logging.SeverityInfo})
	closeRouter(t, router)
	if failing.writes.Load() != 1 {
		t.Fatalf("expected one write attempt, got %d", failing.writes.Load())
	}
	if stats := router.Stats(); stats.SinkFailures != 1 {
		t.Fatalf("expected one sink failure, got %+v", stats)
	}
}

func TestWithFieldsAndFanout(t *testing.T) {
	var a, b []logging.Event
	pa := logging.PublisherFunc(func(_ context.Context, ev logging.Event) { a = append(a, ev) })
	pb := logging.PublisherFunc(func(_ context.Context, ev logging.Event) { b = append(b, ev) })
	pub := logging.WithFields(logging.Fanout(pa, nil, pb), map[string]any{"npc": "npc_1"})
	pub.Publish(context.Background(), logging.Event{Type: "t"})
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected fanout to both publishers, got %d and %d", len(a), len(b))
	}
	a[0].Extra["npc"] = "mutated"
	if b[0].Extra["npc"] != "npc_1" {
		t.Fatalf("expected independent copies, got %+v", b[0].Extra)
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]logging.Severity{
		"debug":   logging.SeverityDebug,
		"INFO":    logging.SeverityInfo,
		"warning": logging.SeverityWarn,
		"error":   logging.SeverityError,
	}
	for input, want := range cases {
		got, err := logging.ParseSeverity(input)
		if err != nil || got != want {
			t.Fatalf("ParseSeverity(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := logging.ParseSeverity("loud"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}

package telemetry

import (
	"bytes"
	"log"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestWrapZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := WrapZap(zap.New(core))
	logger.Printf("spawned %d npcs", 3)
	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "spawned 3 npcs" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	WrapZap(nil).Printf("ignored")
}

func TestCounters(t *testing.T) {
	var counters Counters
	var metrics Metrics = &counters

	metrics.Add("test_counter", 2)
	metrics.Store("test_counter", 5)
	metrics.Add("test_counter", 3)

	if got := counters.Snapshot()["test_counter"]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				counters.Add("parallel", 1)
			}
		}()
	}
	wg.Wait()
	if got := counters.Get("parallel"); got != 800 {
		t.Fatalf("expected 800, got %d", got)
	}
	if keys := counters.Keys(); len(keys) != 2 || keys[0] != "parallel" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	var nilCounters *Counters
	nilCounters.Add("ignored", 1)
	NopMetrics{}.Add("ignored", 1)
}

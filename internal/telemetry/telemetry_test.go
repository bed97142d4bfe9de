package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init with disabled config should not fail: %v", err)
	}
	if IsEnabled() {
		t.Error("IsEnabled should be false when telemetry is disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown should not fail: %v", err)
	}

	// Tracer must still be usable (no-op)
	_, span := StartSpan(context.Background(), "test-span")
	span.End()
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitProfiling with disabled config should not fail: %v", err)
	}
	if IsProfilingEnabled() {
		t.Error("IsProfilingEnabled should be false when profiling is disabled")
	}
	if err := shutdown(); err != nil {
		t.Errorf("no-op shutdown should not fail: %v", err)
	}
}

func TestParseProfileType(t *testing.T) {
	valid := []string{
		"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space",
		"goroutines", "mutex_count", "mutex_duration", "block_count", "block_duration",
	}
	for _, pt := range valid {
		if _, err := parseProfileType(pt); err != nil {
			t.Errorf("parseProfileType(%q) failed: %v", pt, err)
		}
	}

	if _, err := parseProfileType("bogus"); err == nil {
		t.Error("parseProfileType should reject unknown types")
	}
}

package tick

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualStep(t *testing.T) {
	m := NewManual()

	var count int
	cancel := m.Subscribe(func() { count++ })

	m.Step()
	m.Step()
	if count != 2 {
		t.Errorf("expected 2 ticks, got %d", count)
	}

	cancel()
	m.Step()
	if count != 2 {
		t.Errorf("cancelled subscriber should not fire, got %d", count)
	}
}

func TestManualMultipleSubscribers(t *testing.T) {
	m := NewManual()

	var a, b int
	m.Subscribe(func() { a++ })
	cancelB := m.Subscribe(func() { b++ })

	m.Step()
	cancelB()
	m.Step()

	if a != 2 || b != 1 {
		t.Errorf("expected a=2 b=1, got a=%d b=%d", a, b)
	}
}

func TestTickerFires(t *testing.T) {
	ticker := NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	var count atomic.Int64
	cancel := ticker.Subscribe(func() { count.Add(1) })
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for count.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count.Load() < 3 {
		t.Fatalf("ticker should have fired at least 3 times, got %d", count.Load())
	}
}

func TestTickerStopIdempotent(t *testing.T) {
	ticker := NewTicker(time.Millisecond)
	ticker.Stop()
	ticker.Stop()

	var count atomic.Int64
	ticker.Subscribe(func() { count.Add(1) })
	time.Sleep(20 * time.Millisecond)
	if count.Load() != 0 {
		t.Error("stopped ticker should not fire")
	}
}

func TestFuncPump(t *testing.T) {
	src, pump := Func()

	var count int
	src.Subscribe(func() { count++ })

	pump()
	pump()
	if count != 2 {
		t.Errorf("expected 2 ticks, got %d", count)
	}
}

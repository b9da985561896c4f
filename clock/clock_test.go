package clock

import (
	"testing"
	"time"
)

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.AfterFunc(30*time.Millisecond, func() { order = append(order, "late") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "early") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "early-second") })

	m.Advance(20 * time.Millisecond)
	if len(order) != 2 || order[0] != "early" || order[1] != "early-second" {
		t.Fatalf("Expected early timers to fire in order, got %v", order)
	}
	if got := m.Now().Sub(start); got != 20*time.Millisecond {
		t.Errorf("Expected clock at +20ms, got +%v", got)
	}

	m.Advance(10 * time.Millisecond)
	if len(order) != 3 || order[2] != "late" {
		t.Fatalf("Expected late timer to fire, got %v", order)
	}
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Expected Stop to report the timer as stopped")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}

	m.Advance(2 * time.Second)
	if fired {
		t.Error("Stopped timer fired")
	}
	if m.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", m.Pending())
	}
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	count := 0
	m.AfterFunc(time.Second, func() {
		count++
		m.AfterFunc(time.Second, func() { count++ })
	})

	m.Advance(2 * time.Second)
	if count != 2 {
		t.Errorf("Expected chained timer to fire within the same advance, got %d", count)
	}
}

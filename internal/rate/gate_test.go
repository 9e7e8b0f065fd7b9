package rate

import (
	"testing"
	"time"
)

func TestGateAllowsFirstEvent(t *testing.T) {
	g := NewGate(30 * time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !g.Allow(now) {
		t.Fatal("first event should be allowed")
	}
}

func TestGateBlocksWithinInterval(t *testing.T) {
	g := NewGate(30 * time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g.Allow(now)
	if g.Allow(now.Add(29 * time.Second)) {
		t.Fatal("event inside interval should be blocked")
	}
	if !g.Allow(now.Add(30 * time.Second)) {
		t.Fatal("event at interval boundary should be allowed")
	}
}

func TestGateReset(t *testing.T) {
	g := NewGate(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g.Allow(now)
	g.Reset()
	if !g.Allow(now.Add(time.Second)) {
		t.Fatal("reset gate should allow immediately")
	}
}

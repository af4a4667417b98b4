package orchestrator

import (
	"testing"
	"time"
)

func TestPlayback_CooldownAfterReply(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPlayback(800*time.Millisecond, testMetrics(t))
	p.now = func() time.Time { return now }

	if p.Muted() {
		t.Fatal("muted before any reply")
	}
	flag := p.Begin()
	if !p.Muted() || !p.Playing() {
		t.Fatal("not muted while playing")
	}
	p.End(flag)
	if p.Playing() {
		t.Error("still playing after End")
	}
	if !p.Muted() {
		t.Error("gate opened before cooldown elapsed")
	}

	now = now.Add(799 * time.Millisecond)
	if !p.Muted() {
		t.Error("gate opened at 799ms")
	}
	now = now.Add(time.Millisecond)
	if p.Muted() {
		t.Error("gate still closed once cooldown elapsed")
	}
}

func TestPlayback_BargeInSkipsCooldown(t *testing.T) {
	p := NewPlayback(time.Hour, testMetrics(t))

	flag := p.Begin()
	if !p.BargeIn() {
		t.Fatal("BargeIn found no reply to cancel")
	}
	if !flag.Cancelled() {
		t.Fatal("flag not cancelled")
	}
	if p.BargeIn() {
		t.Error("second BargeIn cancelled again")
	}
	p.End(flag)
	if p.Muted() {
		t.Error("gate closed after interrupted reply")
	}
}

func TestPlayback_BargeInDuringCooldownOpensGate(t *testing.T) {
	p := NewPlayback(time.Hour, testMetrics(t))
	p.End(p.Begin())
	if !p.Muted() {
		t.Fatal("cooldown not running")
	}
	if p.BargeIn() {
		t.Error("BargeIn reported a cancelled reply during cooldown")
	}
	if p.Muted() {
		t.Error("gate still closed")
	}
}

func TestPlayback_StaleEndIgnored(t *testing.T) {
	p := NewPlayback(0, testMetrics(t))
	first := p.Begin()
	second := p.Begin()
	p.End(first)
	if !p.Playing() {
		t.Error("ending a superseded reply stopped the current one")
	}
	p.End(second)
	if p.Playing() {
		t.Error("still playing")
	}
}

package cooldown

import (
	"testing"
	"time"
)

func TestHitBlocksUntilTTLExpires(t *testing.T) {
	m := New(0)
	t0 := time.Unix(1_000_000, 0)
	ttl := 30 * time.Second

	m.Hit("BTCUSDT", ttl, t0)

	if m.Allow("BTCUSDT", t0) {
		t.Fatal("expected blocked immediately after hit")
	}
	if m.Allow("BTCUSDT", t0.Add(29*time.Second)) {
		t.Fatal("expected still blocked just before ttl")
	}
	if !m.Allow("BTCUSDT", t0.Add(ttl)) {
		t.Fatal("expected allowed exactly at ttl boundary")
	}
	if !m.Allow("BTCUSDT", t0.Add(time.Minute)) {
		t.Fatal("expected allowed well after ttl")
	}
}

func TestUnknownKeyAllowed(t *testing.T) {
	m := New(time.Minute)
	if !m.Allow("NEW", time.Now()) {
		t.Fatal("unknown key should be allowed")
	}
	if m.Remaining("NEW", time.Now()) != 0 {
		t.Fatal("unknown key should have zero remaining")
	}
}

func TestHitUsesDefaultTTLWhenZero(t *testing.T) {
	m := New(10 * time.Second)
	t0 := time.Unix(0, 0)
	m.Hit("k", 0, t0)
	if m.Allow("k", t0.Add(5*time.Second)) {
		t.Fatal("expected default ttl to still be in effect")
	}
	if !m.Allow("k", t0.Add(10*time.Second)) {
		t.Fatal("expected default ttl to have expired")
	}
}

package core

import (
	"testing"
	"time"
)

func TestDriverIsDead(t *testing.T) {
	now := time.Now()
	d := Driver{ID: NewID(), Heartbeat: now.Add(-10 * time.Second)}
	if !d.IsDead(now, 5*time.Second) {
		t.Fatal("expected driver to be dead when heartbeat older than threshold")
	}
	d.Heartbeat = now.Add(-1 * time.Second)
	if d.IsDead(now, 5*time.Second) {
		t.Fatal("expected driver to be alive when heartbeat within threshold")
	}
}

func TestDataMatchesWorker(t *testing.T) {
	d := Data{Locality: nil}
	if !d.MatchesWorker("anything") {
		t.Fatal("empty locality should match any worker")
	}

	d = Data{Locality: []string{"10.0.0.1", "10.0.0.2"}}
	if !d.MatchesWorker("10.0.0.1") {
		t.Fatal("expected worker in locality list to match")
	}
	if d.MatchesWorker("10.0.0.3") {
		t.Fatal("expected worker not in locality list to not match")
	}
}

func TestIDRoundTripsThroughText(t *testing.T) {
	id := NewID()
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var out ID
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if out != id {
		t.Fatalf("round-trip mismatch: got %v, want %v", out, id)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Fatal("expected ParseID to reject a non-UUID string")
	}
}

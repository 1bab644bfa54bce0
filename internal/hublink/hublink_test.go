package hublink

import (
	"testing"
	"time"
)

func TestExpectThenMatch(t *testing.T) {
	a := New()
	deadline := time.Now().Add(expectLifetimeForTest())

	if err := a.Expect("hub1", "peer1", 412, "tok1", "kp1", true, deadline); err != nil {
		t.Fatalf("Expect: %v", err)
	}

	inv, ok := a.Match("hub1", "peer1", true)
	if !ok {
		t.Fatal("expected a match")
	}
	if inv.Port != 412 || inv.Keyprint != "kp1" {
		t.Errorf("unexpected invitation %+v", inv)
	}

	// Second match for the same key should fail: entry was consumed.
	if _, ok := a.Match("hub1", "peer1", true); ok {
		t.Fatal("expected no match after invitation consumed")
	}
}

func TestExpectDuplicateRefused(t *testing.T) {
	a := New()
	deadline := time.Now().Add(time.Minute)

	if err := a.Expect("hub1", "peer1", 412, "", "", true, deadline); err != nil {
		t.Fatalf("Expect: %v", err)
	}
	// Matching marks the (uid, direction) pair live until MarkDisconnected;
	// a second Expect for the same pair must be refused meanwhile.
	if _, ok := a.Match("hub1", "peer1", true); !ok {
		t.Fatal("expected first match to succeed")
	}
	if err := a.Expect("hub1", "peer1", 412, "", "", true, deadline); err == nil {
		t.Fatal("expected Expect to be refused while the pair is live")
	}

	a.MarkDisconnected("hub1", "peer1", true)
	if err := a.Expect("hub1", "peer1", 412, "", "", true, deadline); err != nil {
		t.Fatalf("Expect after MarkDisconnected should succeed: %v", err)
	}
}

func TestSweepExpiresAndNotifies(t *testing.T) {
	a := New()
	var expiredCalls []Invitation
	a.OnExpired = func(inv Invitation) { expiredCalls = append(expiredCalls, inv) }

	past := time.Now().Add(-time.Hour)
	if err := a.Expect("hub1", "peer1", 412, "", "", true, past); err != nil {
		t.Fatalf("Expect: %v", err)
	}

	a.Sweep(time.Now())

	if len(expiredCalls) != 1 {
		t.Fatalf("expected 1 expiry callback, got %d", len(expiredCalls))
	}
	if expiredCalls[0].PeerID != "peer1" {
		t.Errorf("unexpected expired invitation %+v", expiredCalls[0])
	}

	if _, ok := a.Match("hub1", "peer1", true); ok {
		t.Error("expected no match after sweep expired the entry")
	}
}

func TestMarkDisconnectedReleasesGuard(t *testing.T) {
	a := New()
	a.MarkDisconnected("hub1", "peer1", true) // no-op when nothing live; must not panic
}

func expectLifetimeForTest() time.Duration { return time.Minute }

// Package expect implements the inbound-connection invitation table from
// spec.md §4.G (component G): a FIFO of expected connections keyed by
// (peer uid, direction), each with a bounded lifetime, plus the duplicate
// connection guard that keeps at most one non-disconnected CC per
// (uid, direction) pair.
package expect

import (
	"time"

	"github.com/google/uuid"
)

// Lifetime is how long an unclaimed entry stays in the table before it
// expires (spec.md §4.G).
const Lifetime = 60 * time.Second

// Direction distinguishes who is expected to dial whom.
type Direction int

const (
	// Incoming means the remote peer is expected to connect to us.
	Incoming Direction = iota
	// Outgoing means we are expected to connect to the remote peer.
	Outgoing
)

// Key identifies one expectation slot.
type Key struct {
	UID       string
	Direction Direction
}

// Entry is one pending invitation.
type Entry struct {
	Key       Key
	Token     string
	ExpiresAt time.Time
}

// Table is a FIFO of pending invitations plus the duplicate-connection
// guard. Not safe for concurrent use; callers drive it from the single
// event-loop goroutine, per spec.md's concurrency model.
type Table struct {
	order []Key
	byKey map[Key]*Entry
	live  map[Key]bool // true while a non-Disconn CC exists for this (uid, direction)
}

// New returns an empty table.
func New() *Table {
	return &Table{
		byKey: make(map[Key]*Entry),
		live:  make(map[Key]bool),
	}
}

// Add registers an expectation for key, expiring Lifetime from now. If a
// live (non-disconnected) connection already exists for this key, Add
// refuses and returns false — the duplicate-connection guard.
func (t *Table) Add(key Key, now time.Time, token string) (string, bool) {
	if t.live[key] {
		return "", false
	}
	if token == "" {
		token = uuid.NewString()
	}
	if _, exists := t.byKey[key]; !exists {
		t.order = append(t.order, key)
	}
	t.byKey[key] = &Entry{Key: key, Token: token, ExpiresAt: now.Add(Lifetime)}
	return token, true
}

// Take consumes the expectation for key if present and unexpired, marking
// the connection live. It returns false if there is no matching,
// unexpired entry.
func (t *Table) Take(key Key, now time.Time) (*Entry, bool) {
	t.expire(now)
	e, ok := t.byKey[key]
	if !ok {
		return nil, false
	}
	t.remove(key)
	t.live[key] = true
	return e, true
}

// MarkDisconnected releases the duplicate-connection guard for key once its
// CC reaches Disconn.
func (t *Table) MarkDisconnected(key Key) {
	delete(t.live, key)
}

// IsLive reports whether a non-disconnected CC is tracked for key.
func (t *Table) IsLive(key Key) bool {
	return t.live[key]
}

// Expire drops every entry whose lifetime has elapsed as of now and reports
// how many were removed. Callers should invoke this periodically (e.g. once
// per event-loop tick) so stale invitations don't accumulate.
func (t *Table) Expire(now time.Time) int {
	return t.expire(now)
}

func (t *Table) expire(now time.Time) int {
	removed := 0
	kept := t.order[:0]
	for _, k := range t.order {
		e, ok := t.byKey[k]
		if !ok {
			continue
		}
		if now.After(e.ExpiresAt) {
			delete(t.byKey, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	t.order = kept
	return removed
}

func (t *Table) remove(key Key) {
	delete(t.byKey, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending (unexpired as of the last Expire/Take
// call) entries.
func (t *Table) Len() int { return len(t.order) }

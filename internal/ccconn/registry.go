package ccconn

import (
	"sync"
	"time"
)

// DisconnLinger is how long a CC stays registered in the Disconn state
// before Registry.Sweep frees it, per spec.md §5's timeout table.
const DisconnLinger = 60 * time.Second

// Registry is the process-wide CC list. It enforces the duplicate-
// connection guard (spec.md §4.F, invariant 4 of §8: at most one CC per
// (uid, direction) outside Disconn) and frees CCs that have lingered in
// Disconn past DisconnLinger.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*CC
	disconnAt map[string]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*CC),
		disconnAt: make(map[string]time.Time),
	}
}

// Add registers a newly created CC (still in Conn, before identification).
func (r *Registry) Add(c *CC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
}

// Identify applies the duplicate guard once a CC learns its peer uid: if
// another registered CC already claims the same (uid, direction) outside
// Disconn, the new one is rejected with ErrTooManyConnections and the
// caller must abort it, per spec.md §4.F.
func (r *Registry) Identify(c *CC, uid string, direction TransferDirection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, other := range r.byID {
		if id == c.ID {
			continue
		}
		if other.UID != uid || other.Direction != direction {
			continue
		}
		if other.CurrentState() == Disconn {
			continue
		}
		return ErrTooManyConnections
	}

	c.mu.Lock()
	c.UID = uid
	c.Direction = direction
	c.mu.Unlock()
	return nil
}

// MarkDisconn records that c has entered Disconn at now, starting its
// linger timer.
func (r *Registry) MarkDisconn(c *CC, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.SetState(Disconn)
	r.disconnAt[c.ID] = now
}

// Remove drops c from the registry immediately, bypassing the linger
// timer (used when a CC is replaced by a fresher one for the same key, or
// on clean shutdown).
func (r *Registry) Remove(c *CC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, c.ID)
	delete(r.disconnAt, c.ID)
}

// Sweep frees every CC that has been in Disconn for at least DisconnLinger
// as of now, returning how many were freed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	freed := 0
	for id, since := range r.disconnAt {
		if now.Sub(since) >= DisconnLinger {
			delete(r.byID, id)
			delete(r.disconnAt, id)
			freed++
		}
	}
	return freed
}

// Len returns the number of CCs currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// CountTransfer returns the number of CCs currently in Transfer with the
// given direction, the basis for slots_in_use in the admission table.
func (r *Registry) CountTransfer(direction TransferDirection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.byID {
		if c.CurrentState() == Transfer && c.Direction == direction {
			n++
		}
	}
	return n
}

// PeerInfo is a read-only snapshot of one tracked CC, for status reporting.
type PeerInfo struct {
	UID       string
	Direction TransferDirection
	State     State
	Dialect   string
}

// Snapshot returns a PeerInfo for every currently tracked CC.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerInfo, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, PeerInfo{
			UID:       c.UID,
			Direction: c.Direction,
			State:     c.CurrentState(),
			Dialect:   c.Dialect,
		})
	}
	return out
}

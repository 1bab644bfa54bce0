// Package ccconn implements the per-peer connection (CC) state machine
// from spec.md §4.F: Conn → Handshake → Idle → Transfer → Disconn, shared
// across both wire dialects (package ccconn/dialect tells NMDC and ADC
// apart and parses their messages into a common shape). It also owns the
// two upload-side admission controls spec.md defines alongside the state
// machine: slot accounting and per-(peer, TTH, offset) request throttling.
package ccconn

import (
	"fmt"
	"sync"
)

// State is a CC's position in the spec.md §4.F state machine.
type State int

const (
	Conn State = iota
	Handshake
	Idle
	Transfer
	Disconn
)

func (s State) String() string {
	switch s {
	case Conn:
		return "conn"
	case Handshake:
		return "handshake"
	case Idle:
		return "idle"
	case Transfer:
		return "transfer"
	case Disconn:
		return "disconn"
	default:
		return "unknown"
	}
}

// TransferDirection records which side of a Transfer this CC plays: the
// side that issues GET (Download) or the side that answers it (Upload).
// This is independent of which side dialed the TCP connection.
type TransferDirection int

const (
	Download TransferDirection = iota
	Upload
)

func (d TransferDirection) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Key identifies a CC for the duplicate-connection guard (spec.md §4.F):
// at most one CC per (uid, direction) may be outside Disconn.
type Key struct {
	UID       string
	Direction TransferDirection
}

// ErrTooManyConnections is returned by Registry.Identify when another CC
// for the same (uid, direction) is already active.
var ErrTooManyConnections = fmt.Errorf("ccconn: too many connections for this peer/direction")

// CC is one client-client session. Its exported fields are only ever
// mutated from the single event-loop goroutine driving it; mu guards
// the fields a Registry or metrics sweep may read concurrently.
type CC struct {
	mu sync.Mutex

	ID        string
	UID       string // peer's global id, derived once identified
	Direction TransferDirection
	State     State

	Dialect string // "nmdc" or "adc", set once sniffed

	grantedSlot bool // peer has been granted a full slot this session
	peerIdle    bool
}

func New(id string) *CC {
	return &CC{ID: id, State: Conn}
}

// SetState transitions the CC. Callers are expected to only call this from
// the owning event-loop goroutine; mu is taken only so Registry sweeps can
// read State concurrently without racing a transition.
func (c *CC) SetState(s State) {
	c.mu.Lock()
	c.State = s
	c.mu.Unlock()
}

func (c *CC) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

func (c *CC) GrantSlot() {
	c.mu.Lock()
	c.grantedSlot = true
	c.mu.Unlock()
}

func (c *CC) HasGrantedSlot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grantedSlot
}

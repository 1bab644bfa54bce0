// Package hublink is the minimal coreiface.HubLink adapter: it does not
// speak NMDC or ADC hub chat (out of scope per spec.md's non-goals), it
// only gives a hub-protocol handler a place to call Expect(...) and the
// daemon's peer listener a Match lookup for freshly accepted sockets.
// Internally it is a thin facade over package expect (component G);
// everything beyond the expect-table mechanics (port, keyprint,
// want-download) is metadata the core doesn't need to reason about but
// that the CC handshake needs once a socket actually arrives, so it is
// kept here rather than widening expect.Table.
package hublink

import (
	"fmt"
	"sync"
	"time"

	"github.com/lburgey/ncdc-core/internal/expect"
)

// Invitation is the metadata recorded alongside an expect.Table entry.
type Invitation struct {
	HubID        string
	PeerID       string
	Port         int
	Token        string
	Keyprint     string
	WantDownload bool
	Deadline     time.Time
}

// Adapter implements coreiface.HubLink on top of package expect.
type Adapter struct {
	mu      sync.Mutex
	table   *expect.Table
	byToken map[string]Invitation

	// OnExpired is invoked for invitations that time out unmatched,
	// per spec.md §4.G; if WantDownload was true the downloader should
	// retry the peer elsewhere.
	OnExpired func(Invitation)
}

// New creates an Adapter backed by a fresh expect.Table.
func New() *Adapter {
	return &Adapter{
		table:   expect.New(),
		byToken: make(map[string]Invitation),
	}
}

// uid combines hub and peer identity into the single string expect.Table
// keys on; spec.md's UID is a 64-bit derivative of (hub-id, CID) for ADC,
// but any stable composite works for the expect table's own bookkeeping.
func uid(hubID, peerID string) string {
	return hubID + "\x00" + peerID
}

// Expect implements coreiface.HubLink.
func (a *Adapter) Expect(hubID, peerID string, port int, token, keyprint string, wantDownload bool, deadline time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := expect.Incoming
	if wantDownload {
		// We're the one who will dial out to fetch; spec.md §4.F treats
		// this the same way for the duplicate guard (keyed by direction
		// of the download, not of the TCP dial).
		dir = expect.Outgoing
	}
	key := expect.Key{UID: uid(hubID, peerID), Direction: dir}

	granted, ok := a.table.Add(key, time.Now(), token)
	if !ok {
		return fmt.Errorf("hublink: duplicate expectation for peer %s", peerID)
	}

	a.byToken[granted] = Invitation{
		HubID: hubID, PeerID: peerID, Port: port,
		Token: granted, Keyprint: keyprint,
		WantDownload: wantDownload, Deadline: deadline,
	}
	return nil
}

// Match looks up a pending invitation by (hubID, peerID, direction) and, if
// found and unexpired, consumes it — the inbound-connection matching rule
// from spec.md §4.G.
func (a *Adapter) Match(hubID, peerID string, wantDownload bool) (Invitation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := expect.Incoming
	if wantDownload {
		dir = expect.Outgoing
	}
	key := expect.Key{UID: uid(hubID, peerID), Direction: dir}

	e, ok := a.table.Take(key, time.Now())
	if !ok {
		return Invitation{}, false
	}
	inv, ok := a.byToken[e.Token]
	delete(a.byToken, e.Token)
	return inv, ok
}

// Sweep expires stale invitations, invoking OnExpired for each, per
// spec.md's 60s expect-entry timeout.
func (a *Adapter) Sweep(now time.Time) {
	a.mu.Lock()
	expired := a.expiredInvitations(now)
	a.table.Expire(now)
	for _, inv := range expired {
		delete(a.byToken, inv.Token)
	}
	a.mu.Unlock()

	if a.OnExpired == nil {
		return
	}
	for _, inv := range expired {
		a.OnExpired(inv)
	}
}

func (a *Adapter) expiredInvitations(now time.Time) []Invitation {
	var expired []Invitation
	for _, inv := range a.byToken {
		if now.After(inv.Deadline) {
			expired = append(expired, inv)
		}
	}
	return expired
}

// MarkDisconnected releases the duplicate-connection guard once a CC for
// (hubID, peerID, direction) reaches Disconn.
func (a *Adapter) MarkDisconnected(hubID, peerID string, wantDownload bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dir := expect.Incoming
	if wantDownload {
		dir = expect.Outgoing
	}
	a.table.MarkDisconnected(expect.Key{UID: uid(hubID, peerID), Direction: dir})
}

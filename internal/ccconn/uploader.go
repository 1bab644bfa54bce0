package ccconn

import (
	"time"

	"github.com/lburgey/ncdc-core/internal/ccconn/dialect"
	"github.com/lburgey/ncdc-core/internal/coreiface"
)

// Uploader is the upload-side half of a CC's Idle/Transfer loop: it
// resolves a GET against the share index, runs admission (slots + mini-
// slots + throttling), and produces the SND header or rejection to send
// back, per spec.md §4.F's Transfer state and slot-admission table.
type Uploader struct {
	Share     coreiface.ShareIndex
	Slots     SlotConfig
	Throttle  *Throttler
	PeerID    string
	Granted   bool // this CC already holds a granted slot
}

// Admit resolves g against the share index and decides whether to grant
// it, returning the SND header to send or a Status rejection.
func (u *Uploader) Admit(g dialect.Get, now time.Time) (send dialect.Send, status dialect.Status, grantedSlot bool, err error) {
	var entry coreiface.ShareEntry
	var ok bool

	switch g.Type {
	case dialect.TypeFile, dialect.TypeTTHL:
		entry, ok = u.Share.ResolvePath(g.ID)
		if !ok {
			return dialect.Send{}, dialect.Status{Code: dialect.StatusNoFile, Msg: "File Not Available"}, false, nil
		}
	case dialect.TypeList:
		// File-list bytes are generated on demand; size is irrelevant to
		// admission beyond mini-slot classification, which treats list
		// requests as always below the full-slot threshold.
	}

	cfg := u.Slots
	cfg.PeerHasSlot = u.Granted
	grant, useMini := Decide(cfg, g.Type, entry.Size)
	if !grant {
		return dialect.Send{}, dialect.Status{Code: dialect.StatusSlotsFull, Msg: "slots full"}, false, nil
	}

	if g.Type != dialect.TypeTTHL && !u.Granted {
		key := ThrottleKey{Peer: u.PeerID, TTH: entry.TTH.String(), Offset: g.Start, IsTTHL: false}
		if !u.Throttle.Allow(key, now) {
			return dialect.Send{}, dialect.Status{Code: dialect.StatusThrottled, Msg: "Please wait before requesting this file again"}, false, nil
		}
	}

	length := g.Bytes
	if g.Type == dialect.TypeFile && length <= 0 {
		length = entry.Size - g.Start
	}

	return dialect.Send{Type: g.Type, ID: g.ID, Start: g.Start, Bytes: length, Zlib: g.Zlib}, dialect.Status{}, grant && !useMini, nil
}

package ccconn

import "github.com/lburgey/ncdc-core/internal/ccconn/dialect"

// SlotConfig is the subset of spec.md §6's configuration table that the
// admission decision needs.
type SlotConfig struct {
	Slots           int
	MiniSlots       int
	MiniSlotSize    int64
	SlotsInUse      int // CCs in Transfer with dl == false
	MiniSlotsInUse  int
	PeerHasSlot     bool // this peer already holds a granted slot
	PeerIsOperator  bool
}

// Decide implements spec.md §4.F's slot admission table. fileType is the
// kind of request being admitted (tthl requests are never slot-gated);
// size is the request's file size, used only to classify file/list/
// files.xml.bz2 requests against MiniSlotSize.
func Decide(cfg SlotConfig, fileType dialect.FileType, size int64) (grant bool, useMiniSlot bool) {
	if fileType == dialect.TypeTTHL {
		return true, false
	}

	full := fileType == dialect.TypeFile && size >= cfg.MiniSlotSize
	if full {
		if cfg.SlotsInUse < cfg.Slots || cfg.PeerHasSlot {
			return true, false
		}
		return false, false
	}

	// files.xml.bz2, partial list, or a file below the mini-slot threshold.
	if cfg.SlotsInUse < cfg.Slots || cfg.PeerHasSlot {
		return true, false
	}
	if cfg.MiniSlotsInUse < cfg.MiniSlots || cfg.PeerIsOperator {
		return true, true
	}
	return false, false
}

package config

import "github.com/lburgey/ncdc-core/internal/coreiface"

// Settings adapts a *DaemonConfig into coreiface.SettingsStore: typed
// reads of spec.md §6's named configuration keys, at use-time (no cached
// snapshot — every call re-reads the wrapped struct, so a change made to
// its fields is seen by the next read).
type Settings struct {
	cfg *DaemonConfig
}

// NewSettings wraps cfg. cfg's fields may keep changing underneath
// (e.g. via ConfigWatcher.OnChange swapping it); callers share one
// *DaemonConfig pointer and mutate its fields rather than replacing it,
// so reads always see the latest values.
func NewSettings(cfg *DaemonConfig) *Settings {
	return &Settings{cfg: cfg}
}

// Int implements coreiface.SettingsStore for the integer-valued keys of
// spec.md §6's configuration table.
func (s *Settings) Int(name string) int {
	switch name {
	case "slots":
		return s.cfg.Slots.Slots
	case "minislots":
		return s.cfg.Slots.MiniSlots
	default:
		return 0
	}
}

// Int64 implements coreiface.SettingsStore for the byte-count keys.
func (s *Settings) Int64(name string) int64 {
	switch name {
	case "minislot_size":
		return s.cfg.Slots.MiniSlotSizeBytes
	case "download_segment":
		return s.cfg.Transfer.DownloadSegmentBytes
	case "upload_rate":
		return s.cfg.Transfer.UploadRateBytes
	case "download_rate":
		return s.cfg.Transfer.DownloadRateBytes
	case "hash_rate":
		return s.cfg.Transfer.HashRateBytes
	default:
		return 0
	}
}

// Bool implements coreiface.SettingsStore for the boolean-valued keys.
func (s *Settings) Bool(name string) bool {
	switch name {
	case "disconnect_offline":
		return s.cfg.Peer.DisconnectOffline
	case "log_downloads":
		return s.cfg.Peer.LogDownloads
	case "log_uploads":
		return s.cfg.Peer.LogUploads
	default:
		return false
	}
}

// String implements coreiface.SettingsStore for the string-valued keys.
func (s *Settings) String(name string) string {
	switch name {
	case "tls_policy":
		return string(s.cfg.Peer.TLSPolicy)
	default:
		return ""
	}
}

var _ coreiface.SettingsStore = (*Settings)(nil)

package config

import "time"

// LogConfig holds logging configuration shared by both ncdcd and ncdcctl.
type LogConfig struct {
	Level           string   `mapstructure:"level"`              // debug, info, warn, error
	Format          string   `mapstructure:"format"`             // text, json, pretty
	Output          string   `mapstructure:"output"`             // stdout, stderr, or file path
	FilePath        string   `mapstructure:"file_path"`          // path to log file (in addition to output)
	MaxSizeMB       int      `mapstructure:"max_size_mb"`        // max size in MB before rotation
	MaxBackups      int      `mapstructure:"max_backups"`        // max number of old log files to keep
	MaxAgeDays      int      `mapstructure:"max_age_days"`       // max days to retain old log files
	EnableCaller    bool     `mapstructure:"enable_caller"`      // include source file/line in logs
	NoColor         bool     `mapstructure:"no_color"`           // disable colored output (pretty format only)
	AuditPath       string   `mapstructure:"audit_path"`         // path to audit log file
	AuditMaxAgeDays int      `mapstructure:"audit_max_age_days"` // max days to retain audit logs
	RedactFields    []string `mapstructure:"redact_fields"`      // field names to redact from logs
}

// TLSConfig holds TLS/SSL configuration for the daemon's control socket.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SlotsConfig mirrors spec.md §6's upload admission keys (component F).
type SlotsConfig struct {
	Slots             int   `mapstructure:"slots"`              // full-slot cap for uploads
	MiniSlots         int   `mapstructure:"minislots"`          // mini-slot cap
	MiniSlotSizeBytes int64 `mapstructure:"minislot_size"`      // threshold below which a mini-slot suffices
}

// TransferConfig mirrors spec.md §6's transfer-shaping keys.
type TransferConfig struct {
	DownloadSegmentBytes int64 `mapstructure:"download_segment"` // minimum segment size; 0 = whole remaining thread
	UploadRateBytes      int64 `mapstructure:"upload_rate"`      // 0 = unbounded
	DownloadRateBytes    int64 `mapstructure:"download_rate"`    // 0 = unbounded
	HashRateBytes        int64 `mapstructure:"hash_rate"`        // 0 = unbounded
}

// TLSPolicy is the spec.md §6 tls_policy key's value space.
type TLSPolicy string

const (
	TLSDisabled  TLSPolicy = "disabled"
	TLSAllowed   TLSPolicy = "allowed"
	TLSPreferred TLSPolicy = "preferred"
)

// PeerConfig mirrors the remaining spec.md §6 keys governing CC behavior.
type PeerConfig struct {
	TLSPolicy         TLSPolicy `mapstructure:"tls_policy"`
	DisconnectOffline bool      `mapstructure:"disconnect_offline"`
	LogDownloads      bool      `mapstructure:"log_downloads"`
	LogUploads        bool      `mapstructure:"log_uploads"`

	// ListenAddr is where the daemon accepts incoming client-client sockets
	// (spec.md §4.F's passive/Conn state). 412/tcp is the conventional NMDC
	// client port.
	ListenAddr string `mapstructure:"listen_addr"`
	// HandshakeTimeout bounds every individual read/write on a CC socket,
	// including the handshake itself, so a stalled peer can't pin a thread
	// forever.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// Nick is the ADC CID / NMDC nick this daemon announces in its own
	// CINF/$MyNick handshake line.
	Nick string `mapstructure:"nick"`
}

// DaemonConfig is the complete configuration for the ncdcd daemon: the
// ambient stack (logging) plus every spec.md §6 key plus the ambient data
// directories and control-socket address the daemon needs to run at all.
type DaemonConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	Slots    SlotsConfig    `mapstructure:"slots"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Peer     PeerConfig     `mapstructure:"peer"`

	DataDir        string    `mapstructure:"data_dir"`
	IncomingDir    string    `mapstructure:"incoming_dir"`
	ShareRoots     []string  `mapstructure:"share_roots"`
	ControlSocket  string    `mapstructure:"control_socket"`
	HashTreeDBPath string    `mapstructure:"hash_tree_db"`
	TransferLogDir string    `mapstructure:"transfer_log_dir"`
	PIDFile        string    `mapstructure:"pid_file"`
	TLS            TLSConfig `mapstructure:"tls"`
}

// CtlConfig is the complete configuration for the ncdcctl CLI.
type CtlConfig struct {
	Log           LogConfig `mapstructure:"log"`
	ControlSocket string    `mapstructure:"control_socket"`
	OutputFormat  string    `mapstructure:"output_format"` // text, json, table
	Color         bool      `mapstructure:"color"`
}

// DefaultDaemonConfig returns sensible defaults for ncdcd.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Log: LogConfig{
			Level:           "info",
			Format:          "pretty",
			Output:          "stdout",
			MaxSizeMB:       100,
			MaxBackups:      3,
			MaxAgeDays:      28,
			EnableCaller:    true,
			AuditMaxAgeDays: 365,
			RedactFields:    []string{"token", "keyprint", "lock", "key", "cid"},
		},
		Slots: SlotsConfig{
			Slots:             3,
			MiniSlots:         3,
			MiniSlotSizeBytes: 64 * 1024,
		},
		Transfer: TransferConfig{
			DownloadSegmentBytes: 0,
			UploadRateBytes:      0,
			DownloadRateBytes:    0,
			HashRateBytes:        0,
		},
		Peer: PeerConfig{
			TLSPolicy:         TLSPreferred,
			DisconnectOffline: true,
			LogDownloads:      true,
			LogUploads:        true,
			ListenAddr:        ":412",
			HandshakeTimeout:  30 * time.Second,
			Nick:              "ncdc-core",
		},
		DataDir:        "~/.local/share/ncdcd",
		IncomingDir:    "~/.local/share/ncdcd/incoming",
		ControlSocket:  "~/.local/share/ncdcd/control.sock",
		HashTreeDBPath: "~/.local/share/ncdcd/hashtree.db",
		TransferLogDir: "~/.local/share/ncdcd/logs",
		PIDFile:        "/var/run/ncdcd.pid",
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// DefaultCtlConfig returns sensible defaults for ncdcctl.
func DefaultCtlConfig() *CtlConfig {
	return &CtlConfig{
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		ControlSocket: "~/.local/share/ncdcd/control.sock",
		OutputFormat:  "table",
		Color:         true,
	}
}

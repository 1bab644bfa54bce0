package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	AppDaemon = "ncdcd"
	AppCtl    = "ncdcctl"
)

// configSearchPaths returns the paths to search for config files, lowest
// priority first. newViper registers them in reverse order, because Viper
// reads the first config file it finds in registration order.
func configSearchPaths(appName string) []string {
	paths := []string{}

	// System-wide (lowest priority)
	paths = append(paths, filepath.Join("/etc", appName))

	// User-specific
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appName))
	}

	// Current directory (highest priority for files)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, cwd)
	}

	return paths
}

// UserConfigDir returns the user-specific config directory for the app.
func UserConfigDir(appName string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// newViper creates and configures a new Viper instance for the given app.
func newViper(appName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml") // default, but will auto-detect

	paths := configSearchPaths(appName)
	for i := len(paths) - 1; i >= 0; i-- {
		v.AddConfigPath(paths[i])
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadDaemon loads the configuration for the ncdcd daemon.
func LoadDaemon(cfgFile string) (*DaemonConfig, error) {
	v := newViper(AppDaemon)

	defaults := DefaultDaemonConfig()
	setDaemonDefaults(v, defaults)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults + env vars.
	}

	var cfg DaemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return &cfg, nil
}

// LoadCtl loads the configuration for the ncdcctl CLI.
func LoadCtl(cfgFile string) (*CtlConfig, error) {
	v := newViper(AppCtl)

	defaults := DefaultCtlConfig()
	setCtlDefaults(v, defaults)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg CtlConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	return &cfg, nil
}

func setDaemonDefaults(v *viper.Viper, c *DaemonConfig) {
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.output", c.Log.Output)
	v.SetDefault("log.redact_fields", c.Log.RedactFields)

	v.SetDefault("slots.slots", c.Slots.Slots)
	v.SetDefault("slots.minislots", c.Slots.MiniSlots)
	v.SetDefault("slots.minislot_size", c.Slots.MiniSlotSizeBytes)

	v.SetDefault("transfer.download_segment", c.Transfer.DownloadSegmentBytes)
	v.SetDefault("transfer.upload_rate", c.Transfer.UploadRateBytes)
	v.SetDefault("transfer.download_rate", c.Transfer.DownloadRateBytes)
	v.SetDefault("transfer.hash_rate", c.Transfer.HashRateBytes)

	v.SetDefault("peer.tls_policy", string(c.Peer.TLSPolicy))
	v.SetDefault("peer.disconnect_offline", c.Peer.DisconnectOffline)
	v.SetDefault("peer.log_downloads", c.Peer.LogDownloads)
	v.SetDefault("peer.log_uploads", c.Peer.LogUploads)
	v.SetDefault("peer.listen_addr", c.Peer.ListenAddr)
	v.SetDefault("peer.handshake_timeout", c.Peer.HandshakeTimeout)
	v.SetDefault("peer.nick", c.Peer.Nick)

	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("incoming_dir", c.IncomingDir)
	v.SetDefault("share_roots", c.ShareRoots)
	v.SetDefault("control_socket", c.ControlSocket)
	v.SetDefault("hash_tree_db", c.HashTreeDBPath)
	v.SetDefault("transfer_log_dir", c.TransferLogDir)
	v.SetDefault("pid_file", c.PIDFile)
	v.SetDefault("tls.enabled", c.TLS.Enabled)
	v.SetDefault("tls.cert_file", c.TLS.CertFile)
	v.SetDefault("tls.key_file", c.TLS.KeyFile)
}

func setCtlDefaults(v *viper.Viper, c *CtlConfig) {
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.output", c.Log.Output)
	v.SetDefault("control_socket", c.ControlSocket)
	v.SetDefault("output_format", c.OutputFormat)
	v.SetDefault("color", c.Color)
}

// ConfigFileUsed returns the config file path that was loaded, if any.
func ConfigFileUsed(appName string) string {
	v := newViper(appName)
	_ = v.ReadInConfig()
	return v.ConfigFileUsed()
}

// NewViperFromConfig creates a viper instance populated with values from a
// config struct, used by the generator (GenerateConfig) to re-serialize a
// struct back to YAML.
func NewViperFromConfig(appName string, cfg interface{}) *viper.Viper {
	v := viper.New()

	switch c := cfg.(type) {
	case *DaemonConfig:
		setDaemonDefaults(v, c)
	case *CtlConfig:
		setCtlDefaults(v, c)
	}

	return v
}

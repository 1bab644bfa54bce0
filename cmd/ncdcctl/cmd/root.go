package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/logger"
)

var (
	cfgFile    string
	sockFlag   string
	formatFlag string
	cfg        = config.DefaultCtlConfig()
	log        *logger.Logger
	cmdCtx     *logger.CommandContext
)

var rootCmd = &cobra.Command{
	Use:   "ncdcctl",
	Short: "Control the ncdcd transfer daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadCtl(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		cfg.ControlSocket = expandPath(cfg.ControlSocket)
		if sockFlag != "" {
			cfg.ControlSocket = sockFlag
		}
		if formatFlag != "" {
			cfg.OutputFormat = formatFlag
		}

		l, err := logger.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log = l

		cmdCtx = logger.NewCommandContext(cmd, args)
		cmd.SetContext(logger.WithCommandContext(cmd.Context(), cmdCtx))
		log.Debug("dispatching command", cmdCtx.LogGroup())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if log == nil {
			return nil
		}
		if audit, err := logger.NewAuditLogger(cfg.Log.AuditPath, cfg.Log.AuditMaxAgeDays); err == nil {
			audit.LogCommand(cmd.Context(), cmdCtx.Command, logger.AuditOutcomeSuccess, map[string]any{
				"request_id": cmdCtx.RequestID,
			})
			audit.Close()
		}
		return log.Close()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ncdcctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sockFlag, "socket", "", "control socket path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "output format: table|json (overrides config)")

	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

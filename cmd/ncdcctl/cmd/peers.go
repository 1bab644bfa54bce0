package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Inspect client-client connections",
}

var peersLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List connected peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []ctlproto.PeerEntry
		call(ctlproto.Request{Command: "peers-ls"}, &entries)

		if cfg.OutputFormat == "json" {
			printJSON(entries)
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, p := range entries {
			rows = append(rows, []string{p.UID, p.Direction, p.State, p.Dialect})
		}
		printTable([]string{"UID", "DIRECTION", "STATE", "DIALECT"}, rows)
		return nil
	},
}

func init() {
	peersCmd.AddCommand(peersLsCmd)
}

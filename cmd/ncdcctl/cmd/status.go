package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status ctlproto.StatusResult
		call(ctlproto.Request{Command: "status"}, &status)

		if cfg.OutputFormat == "json" {
			printJSON(status)
			return nil
		}

		fmt.Println(headerStyle.Render("ncdcd status"))
		fmt.Printf("version:           %s\n", status.Version)
		fmt.Printf("uptime:            %s\n", status.Uptime)
		fmt.Printf("active downloads:  %d\n", status.ActiveDownloads)
		fmt.Printf("active connections:%d\n", status.ActiveConns)
		fmt.Printf("share roots:       %d\n", status.ShareRoots)
		fmt.Printf("shared TTHs:       %d\n", status.SharedTTHs)
		return nil
	},
}

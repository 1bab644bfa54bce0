package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the download queue",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []ctlproto.QueueEntry
		call(ctlproto.Request{Command: "queue-ls"}, &entries)

		if cfg.OutputFormat == "json" {
			printJSON(entries)
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.ID, e.TTH, e.Dest,
				fmt.Sprintf("%d/%d", e.Have, e.Size),
				fmt.Sprintf("%.1f%%", e.Progress*100),
				e.State,
			})
		}
		printTable([]string{"ID", "TTH", "DEST", "HAVE/SIZE", "PROGRESS", "STATE"}, rows)
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <tth> <dest> <size>",
	Short: "Add a download to the queue",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[2], err)
		}

		rawArgs, err := json.Marshal(ctlproto.QueueAddArgs{TTH: args[0], Dest: args[1], Size: size})
		if err != nil {
			return err
		}

		var entry ctlproto.QueueEntry
		call(ctlproto.Request{Command: "queue-add", Args: rawArgs}, &entry)
		fmt.Printf("queued %s -> %s\n", entry.TTH, entry.Dest)
		return nil
	},
}

var queueRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a download from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawArgs, err := json.Marshal(ctlproto.QueueRmArgs{ID: args[0]})
		if err != nil {
			return err
		}
		call(ctlproto.Request{Command: "queue-rm", Args: rawArgs}, nil)
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueLsCmd, queueAddCmd, queueRmCmd)
}

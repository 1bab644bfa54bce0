package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read the daemon's live configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a configuration key from the running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawArgs, err := json.Marshal(ctlproto.ConfigGetArgs{Key: args[0]})
		if err != nil {
			return err
		}

		resp, err := ctlproto.Call(cfg.ControlSocket, ctlproto.Request{Command: "config-get", Args: rawArgs})
		if err != nil {
			fatalf("could not reach ncdcd at %s: %v", cfg.ControlSocket, err)
		}
		if !resp.OK {
			fatalf("%s", resp.Error)
		}

		var value any
		if err := json.Unmarshal(resp.Result, &value); err != nil {
			fatalf("decode response: %v", err)
		}
		fmt.Printf("%v\n", value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Send a configuration change to the daemon (it rejects the request; settings stay unchanged)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawArgs, err := json.Marshal(ctlproto.ConfigSetArgs{Key: args[0], Value: args[1]})
		if err != nil {
			return err
		}
		call(ctlproto.Request{Command: "config-set", Args: rawArgs}, nil)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
}

// Command ncdcctl is the CLI front-end to ncdcd: it talks to the daemon
// over its local control socket (internal/ctlproto) to inspect and manage
// the download queue, connected peers, and daemon status.
package main

import "github.com/lburgey/ncdc-core/cmd/ncdcctl/cmd"

func main() {
	cmd.Execute()
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// call sends req to the daemon's control socket and decodes the response's
// result into result (skipped when result is nil or the response carries
// none), printing a styled error and exiting non-zero on failure.
func call(req ctlproto.Request, result any) {
	resp, err := ctlproto.Call(cfg.ControlSocket, req)
	if err != nil {
		fatalf("could not reach ncdcd at %s: %v", cfg.ControlSocket, err)
	}
	if !resp.OK {
		fatalf("%s", resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		fatalf("decode response: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errStyle.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}

// printTable renders rows under header, tab-aligned, with a styled header
// line when the terminal supports color (cfg.Color).
func printTable(header []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	defer w.Flush()

	headerLine := strings.Join(header, "\t")
	if cfg.Color {
		headerLine = headerStyle.Render(headerLine)
	}
	fmt.Fprintln(w, headerLine)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

// printJSON emits v as indented JSON, used when --format json is set.
func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("marshal output: %v", err)
	}
	fmt.Println(string(b))
}

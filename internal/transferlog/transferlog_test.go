package transferlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lburgey/ncdc-core/internal/coreiface"
	"github.com/lburgey/ncdc-core/internal/tth"
)

func TestAppendFormatsLineAndEscapes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transfers.log")

	l := Open(path, 0)
	defer l.Close()

	rec := coreiface.TransferRecord{
		HubName:          "My Hub",
		CID:              "",
		Nick:             "some nick",
		Host:             "hub.example.com:411",
		Download:         true,
		Complete:         true,
		TTH:              tth.Leaf{1, 2, 3},
		Duration:         2500 * time.Millisecond,
		Size:             1 << 20,
		Offset:           0,
		BytesTransferred: 1 << 20,
		VirtualPath:      "/some file.bin",
	}

	if err := l.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	fields := strings.Split(line, " ")
	if len(fields) != 12 {
		t.Fatalf("got %d fields, want 12: %q", len(fields), line)
	}

	if fields[0] != `My\sHub` {
		t.Errorf("hub_name = %q, want escaped", fields[0])
	}
	if fields[1] != "-" {
		t.Errorf("cid = %q, want -", fields[1])
	}
	if fields[4] != "d" {
		t.Errorf("direction = %q, want d", fields[4])
	}
	if fields[5] != "c" {
		t.Errorf("complete = %q, want c", fields[5])
	}
	if fields[7] != "2500" {
		t.Errorf("duration = %q, want 2500", fields[7])
	}
}

func TestAppendUploadIncomplete(t *testing.T) {
	dir := t.TempDir()
	l := Open(filepath.Join(dir, "transfers.log"), 30)
	defer l.Close()

	rec := coreiface.TransferRecord{
		HubName:  "hub",
		Nick:     "peer",
		Host:     "1.2.3.4:412",
		Download: false,
		Complete: false,
	}
	if err := l.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

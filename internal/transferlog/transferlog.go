// Package transferlog appends the completed/interrupted transfer log line
// format from spec.md §6: one space-separated line per finished or
// interrupted transfer, ADC-escaped, rotated the same way the daemon's own
// logs are (internal/logger), via gopkg.in/natefinch/lumberjack.v2.
package transferlog

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lburgey/ncdc-core/internal/ccconn/dialect"
	"github.com/lburgey/ncdc-core/internal/coreiface"
)

// Log appends coreiface.TransferRecord lines to a rotated file, guarded by
// a mutex since both download-completion and upload-completion callbacks
// may append concurrently.
type Log struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// Open opens (creating parent directories as needed) the rotated transfer
// log at path.
func Open(path string, maxAgeDays int) *Log {
	if maxAgeDays <= 0 {
		maxAgeDays = 90
	}
	return &Log{
		w: &lumberjack.Logger{
			Filename: path,
			MaxSize:  50, // MB
			MaxAge:   maxAgeDays,
			Compress: true,
		},
	}
}

// Append writes one line in the spec.md §6 format:
//
//	hub_name cid_or_dash nick host d|u c|i tth duration size offset bytes_transferred virtual_path
func (l *Log) Append(rec coreiface.TransferRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	direction := "d"
	if !rec.Download {
		direction = "u"
	}
	complete := "i"
	if rec.Complete {
		complete = "c"
	}

	cid := rec.CID
	if cid == "" {
		cid = "-"
	}

	line := fmt.Sprintf(
		"%s %s %s %s %s %s %s %s %s %s %s %s\n",
		dialect.EscapeADC(rec.HubName),
		dialect.EscapeADC(cid),
		dialect.EscapeADC(rec.Nick),
		dialect.EscapeADC(rec.Host),
		direction,
		complete,
		rec.TTH.String(),
		strconv.FormatInt(int64(rec.Duration/time.Millisecond), 10),
		strconv.FormatInt(rec.Size, 10),
		strconv.FormatInt(rec.Offset, 10),
		strconv.FormatInt(rec.BytesTransferred, 10),
		dialect.EscapeADC(rec.VirtualPath),
	)

	_, err := io.WriteString(l.w, line)
	return err
}

// Close releases the underlying rotated file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

var _ coreiface.TransferLog = (*Log)(nil)

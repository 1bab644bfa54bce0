// Package ctlserver listens on the control socket and dispatches
// ctlproto requests against a runtime.Runtime: the server half of
// cmd/ncdcctl's wire protocol.
package ctlserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lburgey/ncdc-core/internal/ctlproto"
	"github.com/lburgey/ncdc-core/internal/dlqueue"
	"github.com/lburgey/ncdc-core/internal/hasher"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/runtime"
	"github.com/lburgey/ncdc-core/internal/tth"
	"github.com/lburgey/ncdc-core/internal/version"
)

// Server accepts connections on a unix socket and answers ctlproto
// requests against rt.
type Server struct {
	rt        *runtime.Runtime
	log       *logger.Logger
	audit     *logger.AuditLogger
	startedAt time.Time

	mu sync.Mutex
	ln net.Listener
}

// New returns a Server bound to rt; it does not start listening yet. audit
// may be nil, in which case queue-add/queue-rm commands are simply not
// recorded to the audit trail.
func New(rt *runtime.Runtime, log *logger.Logger, audit *logger.AuditLogger) *Server {
	return &Server{rt: rt, log: log, audit: audit, startedAt: time.Now()}
}

// Serve listens on sockPath (removing any stale socket file first) and
// handles connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, sockPath string) error {
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("ctlserver: listen %s: %w", sockPath, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ctlserver: accept: %w", err)
			}
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	var req ctlproto.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(ctlproto.Err(fmt.Errorf("decode request: %w", err)))
		return
	}

	resp := s.dispatch(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("ctlserver: failed writing response", "error", err)
	}
}

func (s *Server) dispatch(req ctlproto.Request) ctlproto.Response {
	switch req.Command {
	case "status":
		return s.status()
	case "queue-ls":
		return s.queueLs()
	case "queue-add":
		return s.queueAdd(req.Args)
	case "queue-rm":
		return s.queueRm(req.Args)
	case "peers-ls":
		return s.peersLs()
	case "config-get":
		return s.configGet(req.Args)
	case "config-set":
		return ctlproto.Err(fmt.Errorf("config-set: live mutation of daemon settings is not yet supported; edit the config file and restart ncdcd"))
	default:
		return ctlproto.Err(fmt.Errorf("unknown command %q", req.Command))
	}
}

func (s *Server) status() ctlproto.Response {
	return ctlproto.Ok(ctlproto.StatusResult{
		Version:         version.Get().String(),
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		ActiveDownloads: len(s.rt.ListDownloads()),
		ActiveConns:     s.rt.Registry.Len(),
		ShareRoots:      len(s.rt.Config.ShareRoots),
		SharedTTHs:      len(s.rt.ShareIndex.AllTTHs()),
	})
}

func (s *Server) queueLs() ctlproto.Response {
	ids := s.rt.ListDownloads()
	entries := make([]ctlproto.QueueEntry, 0, len(ids))
	for _, id := range ids {
		d, ok := s.rt.Download(id)
		if !ok {
			continue
		}
		have := d.Have()
		var progress float64
		if d.Size > 0 {
			progress = float64(have) / float64(d.Size)
		}
		entries = append(entries, ctlproto.QueueEntry{
			ID:       id,
			TTH:      d.Root.String(),
			Dest:     d.Dest,
			Size:     d.Size,
			Have:     have,
			Progress: progress,
			State:    d.State().String(),
		})
	}
	return ctlproto.Ok(entries)
}

func (s *Server) queueAdd(rawArgs json.RawMessage) ctlproto.Response {
	var args ctlproto.QueueAddArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ctlproto.Err(fmt.Errorf("decode args: %w", err))
	}
	root, err := tth.ParseLeaf(args.TTH)
	if err != nil {
		return ctlproto.Err(err)
	}

	id := args.TTH
	incoming := filepath.Join(s.rt.Config.IncomingDir, id+".dlqueue")
	d, err := dlqueue.Create(dlqueue.Params{
		ID:              id,
		Root:            root,
		IncomingPath:    incoming,
		Dest:            args.Dest,
		Size:            args.Size,
		BlockSize:       hasher.BlockSize,
		MinSegmentBytes: s.rt.Config.Transfer.DownloadSegmentBytes,
		Verify:          s.rt.HashTree,
	})
	if err != nil {
		return ctlproto.Err(err)
	}
	s.rt.AddDownload(id, d)
	s.audit.Log(context.Background(), logger.AuditEvent{
		Action:   logger.AuditActionQueueAdd,
		Resource: id,
		Outcome:  logger.AuditOutcomeSuccess,
		Metadata: map[string]any{"dest": args.Dest, "size": args.Size},
	})
	return ctlproto.Ok(ctlproto.QueueEntry{ID: id, TTH: args.TTH, Dest: args.Dest, Size: args.Size, State: d.State().String()})
}

func (s *Server) queueRm(rawArgs json.RawMessage) ctlproto.Response {
	var args ctlproto.QueueRmArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ctlproto.Err(fmt.Errorf("decode args: %w", err))
	}
	if _, ok := s.rt.Download(args.ID); !ok {
		return ctlproto.Err(fmt.Errorf("no such download %q", args.ID))
	}
	s.rt.RemoveDownload(args.ID)
	s.audit.Log(context.Background(), logger.AuditEvent{
		Action:   logger.AuditActionQueueRemove,
		Resource: args.ID,
		Outcome:  logger.AuditOutcomeSuccess,
	})
	return ctlproto.Ok(nil)
}

func (s *Server) peersLs() ctlproto.Response {
	snapshot := s.rt.Registry.Snapshot()
	entries := make([]ctlproto.PeerEntry, 0, len(snapshot))
	for _, p := range snapshot {
		entries = append(entries, ctlproto.PeerEntry{
			UID:       p.UID,
			Direction: p.Direction.String(),
			State:     p.State.String(),
			Dialect:   p.Dialect,
		})
	}
	return ctlproto.Ok(entries)
}

func (s *Server) configGet(rawArgs json.RawMessage) ctlproto.Response {
	var args ctlproto.ConfigGetArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ctlproto.Err(fmt.Errorf("decode args: %w", err))
	}
	if v := s.rt.Settings.String(args.Key); v != "" {
		return ctlproto.Ok(v)
	}
	return ctlproto.Ok(s.rt.Settings.Int64(args.Key))
}

// Package peerserve is the glue spec.md §4.F calls for but never names a
// home for: it accepts incoming client-client sockets, dials outgoing
// ones, and for each builds the ccconn.Role (Uploader or bound Downloader)
// a Session needs before it can run. ccconn itself stays free of runtime
// and hublink imports (runtime already imports ccconn, so the reverse
// would cycle); this package is where those pieces meet.
package peerserve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lburgey/ncdc-core/internal/ccconn"
	"github.com/lburgey/ncdc-core/internal/ccconn/dialect"
	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/runtime"
)

// DefaultHubID stands in for a real hub identifier. spec.md's non-goals put
// hub-protocol chat out of scope, so this module only ever tracks one
// implicit hub connection's worth of expect-table entries; a multi-hub
// daemon would thread a real hub id through Expect/Match instead.
const DefaultHubID = "hub"

// Listener accepts incoming CC sockets and dials outgoing ones, handing
// each to a ccconn.Session built against rt's collaborators.
type Listener struct {
	rt    *runtime.Runtime
	log   *logger.Logger
	audit *logger.AuditLogger
	tls   *tls.Config

	mu   sync.Mutex
	ln   net.Listener
	wg   sync.WaitGroup
	next atomic.Uint64
}

// New builds a Listener. If rt.Config.Peer.TLSPolicy allows TLS and
// rt.Config.TLS names a certificate, that certificate is loaded and used
// for incoming peer connections, the same as the control plane's. audit may
// be nil (logger.AuditLogger's methods all tolerate a nil receiver), in
// which case peer connect/deny events are simply not recorded.
func New(rt *runtime.Runtime, log *logger.Logger, audit *logger.AuditLogger) (*Listener, error) {
	l := &Listener{rt: rt, log: log, audit: audit}

	if rt.Config.Peer.TLSPolicy != config.TLSDisabled && rt.Config.TLS.Enabled && rt.Config.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(rt.Config.TLS.CertFile, rt.Config.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("peerserve: load cert: %w", err)
		}
		l.tls = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return l, nil
}

// Serve listens on addr and accepts incoming CC sockets until ctx is
// cancelled.
func (l *Listener) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("peerserve: listen %s: %w", addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return fmt.Errorf("peerserve: accept: %w", err)
			}
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveIncoming(ctx, conn)
		}()
	}
}

// Close stops accepting new connections; already-running sessions are left
// to finish on their own (they observe ctx cancellation on their next
// Idle-state check).
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) sessionID() string {
	return fmt.Sprintf("cc-%d", l.next.Add(1))
}

func (l *Listener) serveIncoming(ctx context.Context, conn net.Conn) {
	ctx = logger.WithCommandContext(ctx, logger.NewDaemonContext("cc_accept"))

	sess := ccconn.NewSession(l.sessionID(), ccconn.Config{
		Conn:      conn,
		Dialed:    false,
		LocalNick: l.rt.Config.Peer.Nick,
		TLS:       l.tls,
		Role:      ccconn.Role{},
		Resolve:   l.resolveIncoming,
		Registry:  l.rt.Registry,
		Timeout:   l.rt.Config.Peer.HandshakeTimeout,
		Logf:      l.log.Warn,
	})

	err := sess.Run(ctx)
	reason := ""
	if err != nil {
		reason = err.Error()
		l.log.Debug("peer session ended", "error", err)
	}
	l.audit.LogPeerConn(ctx, sess.CC.UID, err == nil, reason)
}

// resolveIncoming is ccconn.Config.Resolve for accepted sockets: the only
// invitations that make sense for a socket someone else dialed are ones we
// registered as "we won't be the one to dial" (Adapter.Expect's
// wantDownload=false), which per hublink's own direction mapping means the
// peer is the one who wants to download — so we play the Upload role.
func (l *Listener) resolveIncoming(peerUID string) (ccconn.Role, error) {
	inv, ok := l.rt.HubLink.Match(DefaultHubID, peerUID, false)
	if !ok {
		return ccconn.Role{}, fmt.Errorf("peerserve: no pending invitation for peer %s", peerUID)
	}
	return ccconn.Role{
		Direction: ccconn.Upload,
		Uploader:  l.buildUploader(peerUID),
		Keyprint:  inv.Keyprint,
	}, nil
}

func (l *Listener) buildUploader(peerUID string) *ccconn.Uploader {
	cfg := l.rt.Config.Slots
	return &ccconn.Uploader{
		Share: l.rt.ShareIndex,
		Slots: ccconn.SlotConfig{
			Slots:          cfg.Slots,
			MiniSlots:      cfg.MiniSlots,
			MiniSlotSize:   cfg.MiniSlotSizeBytes,
			SlotsInUse:     l.rt.Registry.CountTransfer(ccconn.Upload),
			MiniSlotsInUse: 0,
			PeerHasSlot:    false,
			PeerIsOperator: false,
		},
		Throttle: l.rt.Throttler,
		PeerID:   peerUID,
	}
}

// DialDownload connects out to addr to fetch d, playing the Download role
// against peerUID, per spec.md §4.F's active-side Conn state. It blocks
// until the session ends; callers that want this non-blocking should run it
// in its own goroutine.
func (l *Listener) DialDownload(ctx context.Context, peerUID, addr string, preferredDialect dialect.Dialect, fileID string, fileType dialect.FileType, keyprint string, dl ccconn.DlSource) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("peerserve: dial %s: %w", addr, err)
	}
	ctx = logger.WithCommandContext(ctx, logger.NewDaemonContext("cc_dial"))

	sess := ccconn.NewSession(l.sessionID(), ccconn.Config{
		Conn:      conn,
		Dialed:    true,
		Dialect:   preferredDialect,
		LocalNick: l.rt.Config.Peer.Nick,
		TLS:       l.tls,
		Role: ccconn.Role{
			Direction:  ccconn.Download,
			Downloader: &ccconn.Downloader{PeerID: peerUID, Dl: dl},
			Keyprint:   keyprint,
			FileID:     fileID,
			FileType:   fileType,
		},
		Registry: l.rt.Registry,
		Timeout:  l.rt.Config.Peer.HandshakeTimeout,
		Logf:     l.log.Warn,
	})

	err = sess.Run(ctx)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	l.audit.LogPeerConn(ctx, peerUID, err == nil, reason)
	return err
}

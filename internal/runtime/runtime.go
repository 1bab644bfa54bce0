// Package runtime assembles the process-wide state spec.md §9's design
// note asks for: the CC registry, expect/hublink adapter,
// rate-calc budgets, throttle table, and the active download set, all
// reachable through one handle instead of scattered package-level globals.
// cmd/ncdcd constructs exactly one Runtime at startup and hands it to every
// connection goroutine and control-socket handler it spawns.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lburgey/ncdc-core/internal/ccconn"
	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/coreiface"
	"github.com/lburgey/ncdc-core/internal/dlqueue"
	"github.com/lburgey/ncdc-core/internal/hasher"
	"github.com/lburgey/ncdc-core/internal/hashtree"
	"github.com/lburgey/ncdc-core/internal/hublink"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/ratecalc"
	"github.com/lburgey/ncdc-core/internal/shareindex"
	"github.com/lburgey/ncdc-core/internal/transferlog"
)

// Runtime is the daemon's process-wide state, per spec.md §9.
type Runtime struct {
	Config   *config.DaemonConfig
	Settings *config.Settings
	Log      *logger.Logger
	Metrics  *prometheus.Registry

	Registry    *ccconn.Registry
	Throttler   *ccconn.Throttler
	HubLink     *hublink.Adapter
	ShareIndex  *shareindex.Index
	HashTree    *hashtree.Store
	TransferLog *transferlog.Log

	Budgets map[ratecalc.Class]*ratecalc.Budget

	mu  sync.Mutex
	dls map[string]*dlqueue.Dl
}

// New wires every collaborator named in SPEC_FULL.md's external-interfaces
// section together, opening the hash-tree database and scanning the
// configured share roots.
func New(ctx context.Context, cfg *config.DaemonConfig, log *logger.Logger) (*Runtime, error) {
	if err := os.MkdirAll(cfg.IncomingDir, 0o755); err != nil {
		return nil, fmt.Errorf("runtime: incoming dir: %w", err)
	}

	reg := prometheus.NewRegistry()

	ht, err := hashtree.Open(cfg.HashTreeDBPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: hash tree: %w", err)
	}

	idx := shareindex.New(cfg.ShareRoots, hasher.BlockSize, hasher.New(), ht)
	if err := idx.Scan(ctx, time.Now().Unix()); err != nil {
		ht.Close()
		return nil, fmt.Errorf("runtime: share scan: %w", err)
	}

	tl := transferlog.Open(filepath.Join(cfg.TransferLogDir, "transfers.log"), cfg.Log.AuditMaxAgeDays)

	budgets := map[ratecalc.Class]*ratecalc.Budget{
		ratecalc.ClassHash:     newBudget(ratecalc.ClassHash, cfg.Transfer.HashRateBytes, reg),
		ratecalc.ClassUpload:   newBudget(ratecalc.ClassUpload, cfg.Transfer.UploadRateBytes, reg),
		ratecalc.ClassDownload: newBudget(ratecalc.ClassDownload, cfg.Transfer.DownloadRateBytes, reg),
	}

	rt := &Runtime{
		Config:      cfg,
		Settings:    config.NewSettings(cfg),
		Log:         log,
		Metrics:     reg,
		Registry:    ccconn.NewRegistry(),
		Throttler:   ccconn.NewThrottler(),
		HubLink:     hublink.New(),
		ShareIndex:  idx,
		HashTree:    ht,
		TransferLog: tl,
		Budgets:     budgets,
		dls:         make(map[string]*dlqueue.Dl),
	}
	rt.HubLink.OnExpired = rt.onExpiredInvitation
	return rt, nil
}

// unboundedBudget is the ceiling/perSecond substitute for a configured rate
// of 0 ("unbounded" per spec.md §6): large enough that Grant never actually
// withholds bytes in practice, without special-casing zero at every call
// site that consults a Budget.
const unboundedBudget = 1 << 52

func newBudget(class ratecalc.Class, bytesPerSecond int64, reg *prometheus.Registry) *ratecalc.Budget {
	if bytesPerSecond <= 0 {
		return ratecalc.NewBudget(class, unboundedBudget, unboundedBudget, reg)
	}
	return ratecalc.NewBudget(class, bytesPerSecond*10, bytesPerSecond, reg)
}

func (rt *Runtime) onExpiredInvitation(inv hublink.Invitation) {
	rt.Log.Warn("expect entry expired unmatched",
		"hub", inv.HubID, "peer", inv.PeerID, "want_download", inv.WantDownload)
}

// Close releases the runtime's owned resources: the hash-tree database and
// the transfer log file.
func (rt *Runtime) Close() error {
	var errs []error
	if err := rt.TransferLog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.HashTree.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("runtime: close: %v", errs)
	}
	return nil
}

// Sweep runs the periodic maintenance spec.md assigns timeouts to: the
// expect table's 60s invitation lifetime (component G) and the CC
// registry's Disconn linger (spec.md §5). cmd/ncdcd calls this once a
// second from its own ticker loop.
func (rt *Runtime) Sweep(now time.Time) {
	rt.HubLink.Sweep(now)
	freed := rt.Registry.Sweep(now)
	if freed > 0 {
		rt.Log.Debug("registry sweep freed lingering connections", "count", freed)
	}
}

// AddDownload registers an opened or newly-created Dl under id so
// Download/ListDownloads/RemoveDownload can find it again.
func (rt *Runtime) AddDownload(id string, d *dlqueue.Dl) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dls[id] = d
}

// Download returns the Dl registered under id, if any.
func (rt *Runtime) Download(id string) (*dlqueue.Dl, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	d, ok := rt.dls[id]
	return d, ok
}

// RemoveDownload drops id from the active set, e.g. once it finishes or is
// cancelled.
func (rt *Runtime) RemoveDownload(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.dls, id)
}

// ListDownloads returns every currently tracked download id.
func (rt *Runtime) ListDownloads() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.dls))
	for id := range rt.dls {
		ids = append(ids, id)
	}
	return ids
}

var _ coreiface.HubLink = (*hublink.Adapter)(nil)
var _ coreiface.ShareIndex = (*shareindex.Index)(nil)
var _ coreiface.TransferLog = (*transferlog.Log)(nil)

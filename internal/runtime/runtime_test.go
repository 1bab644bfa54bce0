package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/dlqueue"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/ratecalc"
	"github.com/lburgey/ncdc-core/internal/tth"
)

func newTestConfig(t *testing.T) *config.DaemonConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultDaemonConfig()
	cfg.IncomingDir = filepath.Join(dir, "incoming")
	cfg.HashTreeDBPath = filepath.Join(dir, "hashtree.db")
	cfg.TransferLogDir = dir

	shareRoot := filepath.Join(dir, "share")
	if err := os.MkdirAll(shareRoot, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(shareRoot, "f.txt"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.ShareRoots = []string{shareRoot}
	return cfg
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := newTestConfig(t)
	log, err := logger.New(cfg.Log)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	rt, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestNewWiresShareIndex(t *testing.T) {
	rt := newTestRuntime(t)
	if len(rt.ShareIndex.AllTTHs()) != 1 {
		t.Fatalf("expected one shared file to be indexed, got %d", len(rt.ShareIndex.AllTTHs()))
	}
}

func TestUnboundedBudgetNeverStalls(t *testing.T) {
	rt := newTestRuntime(t)
	b := rt.Budgets[ratecalc.ClassDownload]
	now := time.Now()
	granted := b.Grant(now, 1<<40)
	if granted != 1<<40 {
		t.Errorf("unbounded budget granted %d, want %d", granted, int64(1)<<40)
	}
}

func TestDownloadLifecycle(t *testing.T) {
	rt := newTestRuntime(t)

	var root tth.Leaf
	root[0] = 0x42
	d, err := dlqueue.Create(dlqueue.Params{
		ID:           "dl1",
		Root:         root,
		IncomingPath: filepath.Join(rt.Config.IncomingDir, "dl1.dlqueue"),
		Dest:         filepath.Join(rt.Config.IncomingDir, "dl1.out"),
		Size:         1024,
		BlockSize:    1024,
		Verify:       rt.HashTree,
	})
	if err != nil {
		t.Fatalf("dlqueue.Create: %v", err)
	}

	rt.AddDownload("dl1", d)
	if _, ok := rt.Download("dl1"); !ok {
		t.Fatal("expected download to be registered")
	}
	if len(rt.ListDownloads()) != 1 {
		t.Fatalf("ListDownloads = %v, want 1 entry", rt.ListDownloads())
	}

	rt.RemoveDownload("dl1")
	if _, ok := rt.Download("dl1"); ok {
		t.Fatal("expected download to be removed")
	}
}

func TestSweepDoesNotPanicWithEmptyState(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Sweep(time.Now())
}

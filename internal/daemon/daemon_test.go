package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/history"
	"intake/internal/logging"
	"intake/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		_ = store.Close()
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("expected daemon to report running")
	}
	for _, name := range []string{"backup", "processing", "complete"} {
		if info, err := os.Stat(filepath.Join(cfg.RootDir(), name)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory: %v", name, err)
		}
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.Err() != nil {
		t.Fatalf("unexpected run error: %v", d.Err())
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestDaemonProcessesNewAndExistingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDebounce(
		config.Duration(100*time.Millisecond),
		config.Duration(20*time.Millisecond),
	))
	existing := testsupport.WriteText(t, filepath.Join(cfg.Watch.Directory, "before.txt"), "already here\n")
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	arrived := testsupport.WriteText(t, filepath.Join(cfg.Watch.Directory, "after.bin"), "raw bytes")
	complete := filepath.Join(cfg.RootDir(), "complete")
	waitFor(t, "both files archived", func() bool {
		return len(testsupport.ListDir(t, complete)) == 2
	})
	d.Stop()

	for _, src := range []string{existing, arrived} {
		if _, err := os.Stat(src); !os.IsNotExist(err) {
			t.Fatalf("expected %s moved out of the watched directory", src)
		}
	}
	stats := d.Status().Dispatcher
	if stats.Succeeded != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStatusReportsConfiguredExtensions(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHandler(".MD", "text"), testsupport.WithoutScan())
	d := newDaemon(t, cfg)

	status := d.Status()
	if status.Running {
		t.Fatal("expected daemon not running before Start")
	}
	if got := strings.Join(status.Extensions, ","); got != ".md,.txt" {
		t.Fatalf("unexpected extensions %q", got)
	}
	if status.WatchDir != cfg.Watch.Directory {
		t.Fatalf("unexpected watch dir %q", status.WatchDir)
	}
}

func TestLockWithoutStartIsReleasedOnClose(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutScan())
	first := newDaemon(t, cfg)
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := first.Lock(); err != nil {
		t.Fatalf("second Lock on the holder: %v", err)
	}

	second := newDaemon(t, cfg)
	if err := second.Lock(); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock refusal, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := second.Lock(); err != nil {
		t.Fatalf("Lock after holder closed: %v", err)
	}
}

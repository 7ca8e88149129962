package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"intake/internal/testsupport"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutScan())
	cfg.Logging.Format = "json"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, Options{LogLevel: "error"}) }()

	pidPath := filepath.Join(cfg.Paths.StateDir, "intake.pid")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(pidPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("pid file never written")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	if _, err := os.Lstat(filepath.Join(cfg.Paths.LogDir, "intake.log")); err != nil {
		t.Fatalf("expected intake.log pointer: %v", err)
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never written", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRefusedSecondRunLeavesRunningInstanceState(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutScan())
	cfg.Logging.Format = "json"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, cfg, Options{LogLevel: "error"}) }()

	pidPath := filepath.Join(cfg.Paths.StateDir, "intake.pid")
	pointer := filepath.Join(cfg.Paths.LogDir, "intake.log")
	waitForFile(t, pidPath)
	waitForFile(t, pointer)

	pidBefore, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatal(err)
	}
	logBefore, err := os.Stat(pointer)
	if err != nil {
		t.Fatal(err)
	}

	// Distinct run id for the second attempt.
	time.Sleep(5 * time.Millisecond)
	err = Run(context.Background(), cfg, Options{LogLevel: "error"})
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected second run to be refused, got %v", err)
	}

	pidAfter, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("pid file of running instance removed: %v", err)
	}
	if string(pidAfter) != string(pidBefore) {
		t.Fatalf("pid file rewritten: %q -> %q", pidBefore, pidAfter)
	}
	logAfter, err := os.Stat(pointer)
	if err != nil {
		t.Fatalf("stat intake.log: %v", err)
	}
	if !os.SameFile(logBefore, logAfter) {
		t.Fatal("intake.log repointed by refused instance")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("first Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first Run did not return after cancel")
	}
}

func TestRunFailsPreflightForMissingWatchDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Watch.Directory = filepath.Join(t.TempDir(), "missing")

	err := Run(context.Background(), cfg, Options{LogLevel: "error"})
	if err == nil || !strings.Contains(err.Error(), "Watch directory") {
		t.Fatalf("expected watch directory failure, got %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
}

func TestEnsureCurrentLogPointerReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "intake-1.log")
	second := filepath.Join(dir, "intake-2.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "intake.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "intake-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

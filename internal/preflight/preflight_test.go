package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"intake/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Empty(t *testing.T) {
	if CheckDirectoryAccess("test", "").Passed {
		t.Fatal("expected failure for unconfigured path")
	}
}

func TestRunAllSkipsWatchChecksWithoutDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()

	results := RunAll(&cfg)
	if len(results) != 1 || results[0].Name != "State directory" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(Failed(results)) != 0 {
		t.Fatalf("expected all checks to pass: %+v", results)
	}
}

func TestRunAllReportsMissingRoot(t *testing.T) {
	base := t.TempDir()
	watch := filepath.Join(base, "incoming")
	if err := os.MkdirAll(watch, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Watch.Directory = watch
	cfg.Watch.RootDirectory = filepath.Join(base, "missing-root")

	failed := Failed(RunAll(&cfg))
	if len(failed) != 1 || failed[0].Name != "Root directory" {
		t.Fatalf("expected root failure only, got %+v", failed)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"intake/internal/config"
	"intake/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	t.Setenv("INTAKE_WATCH_DIR", "")

	configPath := filepath.Join(testsupport.BaseDir(cfg), "intake.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestProcessArchivesAndRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteText(t, filepath.Join(env.cfg.Watch.Directory, "notes.txt"), "one\ntwo\n")

	out, err := runCLI(t, []string{"process", src}, env.configPath)
	if err != nil {
		t.Fatalf("process: %v (%s)", err, out)
	}
	requireContains(t, out, "Archived notes.txt")
	requireContains(t, out, "text: 2 lines, 8 bytes")

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source moved, stat err=%v", err)
	}
	archived := testsupport.ListDir(t, filepath.Join(env.cfg.RootDir(), "complete"))
	if len(archived) != 1 || !strings.HasPrefix(archived[0], "notes-") || !strings.HasSuffix(archived[0], ".txt") {
		t.Fatalf("unexpected archive contents %v", archived)
	}

	out, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "notes.txt")
	requireContains(t, out, "archived")

	out, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode history json: %v (%s)", err, out)
	}
	if len(records) != 1 || records[0]["Outcome"] != "archived" {
		t.Fatalf("unexpected records %v", records)
	}

	out, err = runCLI(t, []string{"history", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	requireContains(t, out, "archived")

	out, err = runCLI(t, []string{"history", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Removed 1 job record(s)")
}

func TestProcessConflictFailsAndKeepsSource(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteText(t, filepath.Join(env.cfg.Watch.Directory, "dup.txt"), "new\n")
	occupant := testsupport.WriteText(t, filepath.Join(env.cfg.RootDir(), "processing", "dup.txt"), "old\n")

	out, err := runCLI(t, []string{"process", src}, env.configPath)
	if err == nil {
		t.Fatalf("expected conflict error, output %q", out)
	}
	requireContains(t, out, "quarantine conflict")
	requireContains(t, out, "Hint:")

	if data, _ := os.ReadFile(src); string(data) != "new\n" {
		t.Fatalf("source modified: %q", data)
	}
	if data, _ := os.ReadFile(occupant); string(data) != "old\n" {
		t.Fatalf("occupant modified: %q", data)
	}

	out, err = runCLI(t, []string{"history", "--outcome", "conflict"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "dup.txt")
}

func TestProcessRootFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	elsewhere := t.TempDir()
	src := testsupport.WriteText(t, filepath.Join(elsewhere, "in", "a.bin"), "data")
	root := filepath.Join(elsewhere, "archive-root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, []string{"process", "--root", root, "--no-history", src}, env.configPath)
	if err != nil {
		t.Fatalf("process: %v (%s)", err, out)
	}
	requireContains(t, out, `No handler for ".bin"`)
	if got := testsupport.ListDir(t, filepath.Join(root, "complete")); len(got) != 1 {
		t.Fatalf("expected one archived file under --root, got %v", got)
	}
}

func TestWatchRejectsMissingDirectory(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := runCLI(t, []string{"watch", missing}, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	requireContains(t, err.Error(), "does not exist")
}

func TestCheckReportsFailures(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v (%s)", err, out)
	}
	requireContains(t, out, "Watch directory:")
	requireContains(t, out, "not running")

	out, err = runCLI(t, []string{"check", filepath.Join(t.TempDir(), "gone")}, env.configPath)
	if err == nil {
		t.Fatalf("expected failure, output %q", out)
	}
	requireContains(t, out, "[ERROR]")
}

func TestConfigInitShowAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "debounce_window")
	requireContains(t, out, "2s")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}

func TestResolveProcessRoot(t *testing.T) {
	cfg := config.Default()
	cfg.Watch.Directory = "/srv/inbox/incoming"
	cfg.Watch.RootDirectory = "/srv/archive"

	if got, _ := resolveProcessRoot(&cfg, "/srv/inbox/incoming", ""); got != "/srv/archive" {
		t.Fatalf("configured watch dir should use configured root, got %s", got)
	}
	if got, _ := resolveProcessRoot(&cfg, "/tmp/drop", ""); got != "/tmp" {
		t.Fatalf("other dirs should use their parent, got %s", got)
	}
	if got, _ := resolveProcessRoot(&cfg, "/tmp/drop", "/data/root"); got != "/data/root" {
		t.Fatalf("flag should win, got %s", got)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}

func TestLogsShowsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log file")

	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "first\nsecond\nthird\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "intake.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"intake/internal/logging"
	"intake/internal/pipeline"
)

type testEnv struct {
	layout   pipeline.Layout
	pipeline *pipeline.Pipeline
}

func newTestEnv(t *testing.T, extra ...pipeline.Handler) *testEnv {
	t.Helper()
	root := t.TempDir()
	source := filepath.Join(root, "incoming")
	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatalf("mkdir source: %v", err)
	}
	layout, err := pipeline.NewLayout(root, source)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	extensions := map[string]string{".txt": "text"}
	handlers := pipeline.DefaultHandlers(logging.NewNop())
	for _, h := range extra {
		extensions["."+h.Name()] = h.Name()
		handlers = append(handlers, h)
	}
	registry, err := pipeline.NewRegistry(extensions, handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &testEnv{layout: layout, pipeline: pipeline.New(layout, registry, logging.NewNop())}
}

func (e *testEnv) write(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

var archiveName = regexp.MustCompile(`^report-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.txt$`)

func TestProcessArchivesTextFile(t *testing.T) {
	env := newTestEnv(t)
	src := env.write(t, env.layout.Source, "report.txt", "line one\nline two\n")

	job, err := env.pipeline.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if job.State != pipeline.StateArchived || !job.Succeeded() {
		t.Fatalf("unexpected state %q", job.State)
	}
	if job.Handler != "text" || job.Unsupported {
		t.Fatalf("expected text handler, got %q (unsupported=%v)", job.Handler, job.Unsupported)
	}
	if job.Summary != "2 lines, 18 bytes" {
		t.Fatalf("unexpected summary %q", job.Summary)
	}

	archived := listDir(t, env.layout.Complete)
	if len(archived) != 1 || !archiveName.MatchString(archived[0]) {
		t.Fatalf("unexpected archive contents %v", archived)
	}
	if !strings.Contains(archived[0], job.ID) {
		t.Fatalf("archive name %q does not carry job id %q", archived[0], job.ID)
	}
	if got := readFile(t, filepath.Join(env.layout.Backup, "report.txt")); got != "line one\nline two\n" {
		t.Fatalf("backup content %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, stat err=%v", err)
	}
	if names := listDir(t, env.layout.Processing); len(names) != 0 {
		t.Fatalf("expected empty processing dir, got %v", names)
	}
	if info, err := os.Stat(env.layout.Processing); err != nil || !info.IsDir() {
		t.Fatalf("processing directory must remain: %v", err)
	}
}

func TestProcessConflictLeavesSourceAndBackup(t *testing.T) {
	env := newTestEnv(t)
	src := env.write(t, env.layout.Source, "report.txt", "new content")
	env.write(t, env.layout.Backup, "report.txt", "previous backup")
	env.write(t, env.layout.Processing, "report.txt", "in flight")

	job, err := env.pipeline.Process(context.Background(), src)
	if !errors.Is(err, pipeline.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if job.State != pipeline.StateAborted || job.LastState != pipeline.StateValidating {
		t.Fatalf("unexpected state %q (last %q)", job.State, job.LastState)
	}
	if got := readFile(t, src); got != "new content" {
		t.Fatalf("source changed: %q", got)
	}
	if got := readFile(t, filepath.Join(env.layout.Processing, "report.txt")); got != "in flight" {
		t.Fatalf("quarantine occupant changed: %q", got)
	}
	if got := readFile(t, filepath.Join(env.layout.Backup, "report.txt")); got != "previous backup" {
		t.Fatalf("backup content %q", got)
	}
	if names := listDir(t, env.layout.Complete); len(names) != 0 {
		t.Fatalf("expected no archive entries, got %v", names)
	}
	if pipeline.Kind(err) != "conflict" {
		t.Fatalf("unexpected kind %q", pipeline.Kind(err))
	}
}

func TestProcessUnsupportedTypeRoundTrips(t *testing.T) {
	env := newTestEnv(t)
	payload := string([]byte{0x00, 0xff, 0x10, 'P', 'K', 0x03, 0x04})
	src := env.write(t, env.layout.Source, "blob.bin", payload)

	job, err := env.pipeline.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !job.Unsupported || job.Handler != "" {
		t.Fatalf("expected unsupported job, got handler %q", job.Handler)
	}
	archived := listDir(t, env.layout.Complete)
	if len(archived) != 1 || !strings.HasPrefix(archived[0], "blob-") || !strings.HasSuffix(archived[0], ".bin") {
		t.Fatalf("unexpected archive contents %v", archived)
	}
	if got := readFile(t, filepath.Join(env.layout.Complete, archived[0])); got != payload {
		t.Fatalf("archived bytes differ: %q", got)
	}
}

func TestProcessTwiceKeepsBothArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.write(t, env.layout.Source, "report.txt", "first run")
	job1, err := env.pipeline.Process(ctx, first)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second := env.write(t, env.layout.Source, "report.txt", "second run")
	job2, err := env.pipeline.Process(ctx, second)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if job1.ArchivePath == job2.ArchivePath {
		t.Fatalf("archive paths collide: %s", job1.ArchivePath)
	}
	if got := readFile(t, job1.ArchivePath); got != "first run" {
		t.Fatalf("first archive overwritten: %q", got)
	}
	if got := readFile(t, job2.ArchivePath); got != "second run" {
		t.Fatalf("second archive content %q", got)
	}
	if got := readFile(t, filepath.Join(env.layout.Backup, "report.txt")); got != "second run" {
		t.Fatalf("backup should hold the latest copy, got %q", got)
	}
	if n := len(listDir(t, env.layout.Complete)); n != 2 {
		t.Fatalf("expected two archive entries, got %d", n)
	}
}

func TestProcessMissingSource(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.pipeline.Process(context.Background(), filepath.Join(env.layout.Source, "gone.txt"))
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if job.State != pipeline.StateAborted || job.LastState != pipeline.StateValidating {
		t.Fatalf("unexpected state %q (last %q)", job.State, job.LastState)
	}
	for _, dir := range []string{env.layout.Backup, env.layout.Processing, env.layout.Complete} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("validation failure must have no side effects, %s exists", dir)
		}
	}
}

func TestProcessDirectoryIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Join(env.layout.Source, "nested")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := env.pipeline.Process(context.Background(), dir); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestProcessRejectsFileOutsideSource(t *testing.T) {
	env := newTestEnv(t)
	outside := env.write(t, t.TempDir(), "report.txt", "x")
	_, err := env.pipeline.Process(context.Background(), outside)
	if !errors.Is(err, pipeline.ErrInfra) {
		t.Fatalf("expected ErrInfra, got %v", err)
	}
	if got := readFile(t, outside); got != "x" {
		t.Fatalf("outside file modified: %q", got)
	}
}

func TestProcessBackupFailureLeavesSource(t *testing.T) {
	env := newTestEnv(t)
	// A regular file where backup/ should be makes directory creation fail.
	if err := os.WriteFile(env.layout.Backup, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := env.write(t, env.layout.Source, "report.txt", "keep me")

	_, err := env.pipeline.Process(context.Background(), src)
	if !errors.Is(err, pipeline.ErrInfra) {
		t.Fatalf("expected ErrInfra, got %v", err)
	}
	if got := readFile(t, src); got != "keep me" {
		t.Fatalf("source changed: %q", got)
	}
}

type failingHandler struct{}

func (failingHandler) Name() string { return "fail" }

func (failingHandler) Handle(context.Context, *pipeline.Job) error {
	return errors.New("cannot parse")
}

func TestProcessHandlerFailureKeepsQuarantine(t *testing.T) {
	env := newTestEnv(t, failingHandler{})
	src := env.write(t, env.layout.Source, "data.fail", "payload")

	job, err := env.pipeline.Process(context.Background(), src)
	if !errors.Is(err, pipeline.ErrHandler) {
		t.Fatalf("expected ErrHandler, got %v", err)
	}
	if job.LastState != pipeline.StateQuarantined {
		t.Fatalf("unexpected last state %q", job.LastState)
	}
	if got := readFile(t, filepath.Join(env.layout.Processing, "data.fail")); got != "payload" {
		t.Fatalf("quarantined file content %q", got)
	}
	if names := listDir(t, env.layout.Complete); len(names) != 0 {
		t.Fatalf("expected no archive entries, got %v", names)
	}
}

type rewritingHandler struct{}

func (rewritingHandler) Name() string { return "upper" }

func (rewritingHandler) Handle(_ context.Context, job *pipeline.Job) error {
	data, err := os.ReadFile(job.QuarantinePath)
	if err != nil {
		return err
	}
	return os.WriteFile(job.QuarantinePath, []byte(strings.ToUpper(string(data))), 0o644)
}

func TestProcessArchivesHandlerOutput(t *testing.T) {
	env := newTestEnv(t, rewritingHandler{})
	src := env.write(t, env.layout.Source, "note.UPPER", "shout")

	job, err := env.pipeline.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if job.Handler != "upper" {
		t.Fatalf("expected case-insensitive lookup, got handler %q", job.Handler)
	}
	if got := readFile(t, job.ArchivePath); got != "SHOUT" {
		t.Fatalf("archived content %q", got)
	}
}

func TestProcessDistinctFilesConcurrently(t *testing.T) {
	env := newTestEnv(t)
	const files = 16
	paths := make([]string, files)
	for i := range paths {
		paths[i] = env.write(t, env.layout.Source, fmt.Sprintf("f%02d.txt", i), fmt.Sprintf("content %d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, files)
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if _, err := env.pipeline.Process(context.Background(), path); err != nil {
				errs <- err
			}
		}(path)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Process: %v", err)
	}
	if n := len(listDir(t, env.layout.Complete)); n != files {
		t.Fatalf("expected %d archive entries, got %d", files, n)
	}
	if n := len(listDir(t, env.layout.Backup)); n != files {
		t.Fatalf("expected %d backups, got %d", files, n)
	}
}

func TestProcessWithFixedIDs(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "in")
	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatal(err)
	}
	layout, err := pipeline.NewLayout(root, source)
	if err != nil {
		t.Fatal(err)
	}
	p := pipeline.New(layout, nil, logging.NewNop(), pipeline.WithIDGenerator(func() string { return "run1" }))
	src := filepath.Join(source, ".env")
	if err := os.WriteFile(src, []byte("K=V"), 0o644); err != nil {
		t.Fatal(err)
	}
	job, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if want := filepath.Join(layout.Complete, ".env-run1"); job.ArchivePath != want {
		t.Fatalf("archive path = %s, want %s", job.ArchivePath, want)
	}
}

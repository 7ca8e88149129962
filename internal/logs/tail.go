package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = time.Second

// Last returns up to n trailing lines of path and the offset just past the
// last complete line. A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if n < 0 {
		n = 0
	}
	return scanComplete(file, 0, n)
}

// Follow calls fn for every complete line appended to path after offset,
// until ctx is done. Symlinks are resolved once at start.
func Follow(ctx context.Context, path string, offset int64, fn func(line string)) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve log file: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(resolved)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		next, err := emitFrom(resolved, offset, fn)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Name != resolved || !ev.Has(fsnotify.Write) {
				continue
			}
		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", werr)
		case <-ticker.C:
		}
	}
}

func emitFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		// Truncated; start over.
		offset = 0
	}
	lines, next, err := scanComplete(file, offset, -1)
	if err != nil {
		return offset, err
	}
	for _, line := range lines {
		fn(line)
	}
	return next, nil
}

// scanComplete reads complete lines from offset. keep > 0 retains only the
// last keep lines, keep < 0 retains all of them, and keep == 0 retains none.
// The returned offset points just past the last newline, so a partially
// written line is read again on the next call.
func scanComplete(file *os.File, offset int64, keep int) ([]string, int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var (
		lines []string
		ring  []string
		head  int
		count int
	)
	if keep > 0 {
		ring = make([]string, keep)
	}
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 && raw[len(raw)-1] == '\n' {
			offset += int64(len(raw))
			line := string(bytes.TrimRight(raw, "\r\n"))
			switch {
			case keep > 0:
				ring[head] = line
				head = (head + 1) % keep
				if count < keep {
					count++
				}
			case keep < 0:
				lines = append(lines, line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
	}

	if keep > 0 {
		lines = make([]string, 0, count)
		start := 0
		if count == keep {
			start = head
		}
		for i := 0; i < count; i++ {
			lines = append(lines, ring[(start+i)%keep])
		}
	}
	return lines, offset, nil
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"intake/internal/logging"
)

// Handler processes a quarantined file in place. Implementations may read or
// rewrite job.QuarantinePath; the pipeline archives whatever is there when
// Handle returns nil.
type Handler interface {
	Name() string
	Handle(ctx context.Context, job *Job) error
}

// Registry resolves file extensions to handlers.
type Registry struct {
	handlers   map[string]Handler
	extensions map[string]string
}

// NewRegistry binds each extension to the handler with the matching id.
// Extensions are compared case-insensitively with Unicode folding. An
// extension naming an unknown handler id is an error.
func NewRegistry(extensions map[string]string, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers:   make(map[string]Handler, len(handlers)),
		extensions: make(map[string]string, len(extensions)),
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		name := strings.TrimSpace(h.Name())
		if name == "" {
			return nil, errors.New("registry: handler with empty name")
		}
		if _, dup := r.handlers[name]; dup {
			return nil, fmt.Errorf("registry: duplicate handler %q", name)
		}
		r.handlers[name] = h
	}
	for ext, id := range extensions {
		key := foldExtension(ext)
		if key == "" {
			continue
		}
		id = strings.TrimSpace(id)
		if _, ok := r.handlers[id]; !ok {
			return nil, fmt.Errorf("registry: extension %q maps to unknown handler %q", ext, id)
		}
		r.extensions[key] = id
	}
	return r, nil
}

// DefaultHandlers returns the built-in handlers.
func DefaultHandlers(logger *slog.Logger) []Handler {
	return []Handler{NewTextHandler(logger)}
}

// Lookup returns the handler bound to ext.
func (r *Registry) Lookup(ext string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	id, ok := r.extensions[foldExtension(ext)]
	if !ok {
		return nil, false
	}
	h, ok := r.handlers[id]
	return h, ok
}

// Extensions lists the supported extensions in sorted order.
func (r *Registry) Extensions() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// foldExtension normalizes ".TXT", "txt" and " .Txt " to ".txt". A Caser is
// stateful, so each call builds its own.
func foldExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return cases.Fold().String(ext)
}

// TextHandler summarizes plain-text files. Content passes through untouched.
type TextHandler struct {
	logger *slog.Logger
}

// NewTextHandler constructs the "text" handler.
func NewTextHandler(logger *slog.Logger) *TextHandler {
	return &TextHandler{logger: logging.NewComponentLogger(logger, "text-handler")}
}

func (h *TextHandler) Name() string { return "text" }

// Handle counts lines and bytes and checks the content is valid UTF-8.
// Invalid UTF-8 is reported but does not fail the job.
func (h *TextHandler) Handle(ctx context.Context, job *Job) error {
	file, err := os.Open(job.QuarantinePath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	var (
		lines   int
		size    int64
		valid   = true
		last    byte
		partial []byte
	)
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := file.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			size += int64(n)
			lines += bytes.Count(chunk, []byte{'\n'})
			last = chunk[n-1]
			if valid {
				partial = append(partial, chunk...)
				cut := validPrefix(partial)
				if !utf8.Valid(partial[:cut]) {
					valid = false
				}
				partial = append(partial[:0], partial[cut:]...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
	if valid && len(partial) > 0 {
		valid = false
	}
	if size > 0 && last != '\n' {
		lines++
	}

	job.Summary = fmt.Sprintf("%d lines, %d bytes", lines, size)
	logger := logging.WithContext(ctx, h.logger)
	if !valid {
		logging.WarnWithContext(logger, "text file is not valid UTF-8", "text_invalid_utf8",
			logging.String(logging.FieldPath, job.QuarantinePath),
			logging.String(logging.FieldImpact, "file archived unchanged"),
			logging.String(logging.FieldErrorHint, "check the producer's encoding"),
		)
	}
	logger.Info("text file summarized",
		logging.String("file", job.Name()),
		logging.Int("lines", lines),
		logging.Int64("bytes", size),
		logging.Bool("utf8", valid),
	)
	return nil
}

// validPrefix returns the length of b excluding a trailing incomplete rune,
// so a multi-byte sequence split across reads is checked with its tail.
func validPrefix(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return len(b)
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return len(b) - i
			}
			return len(b)
		}
	}
	return len(b)
}

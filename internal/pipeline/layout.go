package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"intake/internal/config"
)

// Directory names created under the root.
const (
	BackupDirName     = "backup"
	ProcessingDirName = "processing"
	CompleteDirName   = "complete"
)

// Layout is the directory set for one watched root.
type Layout struct {
	Root       string
	Source     string
	Backup     string
	Processing string
	Complete   string
}

// NewLayout builds the directory set for source, rooted at root.
func NewLayout(root, source string) (Layout, error) {
	root = strings.TrimSpace(root)
	source = strings.TrimSpace(source)
	if root == "" {
		return Layout{}, errors.New("layout: root directory is required")
	}
	if source == "" {
		return Layout{}, errors.New("layout: source directory is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("layout: resolve root: %w", err)
	}
	absSource, err := filepath.Abs(source)
	if err != nil {
		return Layout{}, fmt.Errorf("layout: resolve source: %w", err)
	}
	l := Layout{
		Root:       absRoot,
		Source:     absSource,
		Backup:     filepath.Join(absRoot, BackupDirName),
		Processing: filepath.Join(absRoot, ProcessingDirName),
		Complete:   filepath.Join(absRoot, CompleteDirName),
	}
	for _, dir := range l.managed() {
		if dir == l.Source {
			return Layout{}, fmt.Errorf("layout: source %s overlaps %s", l.Source, dir)
		}
	}
	return l, nil
}

// LayoutFromConfig builds the layout for the configured watch directory.
func LayoutFromConfig(cfg *config.Config) (Layout, error) {
	if cfg == nil {
		return Layout{}, errors.New("layout: config is required")
	}
	return NewLayout(cfg.RootDir(), cfg.Watch.Directory)
}

// EnsureDirectories creates backup/, processing/ and complete/. Existing
// directories are not an error.
func (l Layout) EnsureDirectories() error {
	for _, dir := range l.managed() {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func (l Layout) managed() []string {
	return []string{l.Backup, l.Processing, l.Complete}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

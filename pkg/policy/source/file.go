package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileSource reads YAML bundles from a file or from every .yaml/.yml file
// in a directory (non-recursive, hidden files skipped, sorted by name).
// A strategy may be set in at most one file.
type FileSource struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewFileSource creates a file source. A zero debounce defaults to 100ms.
func NewFileSource(path string, debounce time.Duration, logger *slog.Logger) *FileSource {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, debounce: debounce, logger: logger.With("component", "source.file")}
}

// Name returns "file".
func (f *FileSource) Name() string { return "file" }

// Load reads and validates the bundle.
func (f *FileSource) Load(_ context.Context) (*Bundle, error) {
	files, err := f.files()
	if err != nil {
		return nil, err
	}

	out := &Bundle{}
	strategyFrom := ""
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read policy bundle %s: %w", name, err)
		}
		var b Bundle
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("parse policy bundle %s: %w", name, err)
		}
		if b.Strategy != "" {
			if strategyFrom != "" && b.Strategy != out.Strategy {
				return nil, fmt.Errorf("default strategy set in both %s and %s", strategyFrom, name)
			}
			out.Strategy, strategyFrom = b.Strategy, name
		}
		out.Policies = append(out.Policies, b.Policies...)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("policy bundle %s: %w", f.path, err)
	}
	f.logger.Debug("policy bundle loaded", "path", f.path, "files", len(files), "policies", len(out.Policies))
	return out, nil
}

func (f *FileSource) files() ([]string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat policy source: %w", err)
	}
	if !info.IsDir() {
		return []string{f.path}, nil
	}
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, fmt.Errorf("read policy directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isBundleFile(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(f.path, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isBundleFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch reports changes to the bundle files. Bursts of events within the
// debounce interval produce one callback. Editors that replace files are
// handled by watching the containing directory.
func (f *FileSource) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	dir, single := f.path, ""
	if info, err := os.Stat(f.path); err == nil && !info.IsDir() {
		dir, single = filepath.Dir(f.path), filepath.Clean(f.path)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	d := newDebouncer(f.debounce)
	defer d.stop()

	f.logger.Info("policy source watch started", "path", f.path, "debounce_ms", f.debounce.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("policy source watch stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if ev.Op&fsnotify.Chmod == fsnotify.Chmod || !isBundleFile(ev.Name) {
				continue
			}
			if single != "" && filepath.Clean(ev.Name) != single {
				continue
			}
			f.logger.Debug("policy source event", "path", ev.Name, "op", ev.Op.String())
			d.trigger(onChange)

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			f.logger.Error("policy source watch error", "error", err)
		}
	}
}

// debouncer runs the latest callback once events have been quiet for the
// interval.
type debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			cb()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

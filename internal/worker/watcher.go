package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
)

const defaultDebounce = 2 * time.Second

var watchEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sercha",
		Subsystem: "pool",
		Name:      "watch_events_total",
		Help:      "Pool file system events that marked the index stale.",
	},
	[]string{"op"},
)

// PoolWatcher marks the whole-pool index stale when files in the pool
// change and, if enabled, rebuilds it once changes settle.
type PoolWatcher struct {
	root        string
	extensions  map[string]bool
	retrieval   driving.RetrievalService
	autoRebuild bool
	debounce    time.Duration
	logger      *slog.Logger

	// Internal state
	mu      sync.Mutex
	running bool
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherConfig holds configuration for the pool watcher.
type WatcherConfig struct {
	Root        string
	Extensions  []string // Lowercase with dot; empty watches every file
	Retrieval   driving.RetrievalService
	AutoRebuild bool
	Debounce    time.Duration // Quiet period before an automatic rebuild
	Logger      *slog.Logger
}

// NewPoolWatcher creates a new pool watcher.
func NewPoolWatcher(cfg WatcherConfig) (*PoolWatcher, error) {
	if cfg.Root == "" || cfg.Retrieval == nil {
		return nil, fmt.Errorf("pool watcher: root and retrieval are required: %w", domain.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &PoolWatcher{
		root:        cfg.Root,
		extensions:  exts,
		retrieval:   cfg.Retrieval,
		autoRebuild: cfg.AutoRebuild,
		debounce:    debounce,
		logger:      logger,
	}, nil
}

// Start watches the pool root and every folder below it.
// It runs until Stop is called or ctx is cancelled.
func (w *PoolWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.addTree(watcher, w.root); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("pool watcher starting",
		"root", w.root,
		"auto_rebuild", w.autoRebuild,
		"debounce", w.debounce,
	)

	go w.loop(ctx, watcher, w.stopCh, w.doneCh)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *PoolWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh

	w.mu.Lock()
	w.running = false
	w.watcher = nil
	w.mu.Unlock()

	w.logger.Info("pool watcher stopped")
}

// loop owns the fsnotify watcher and closes it on exit.
func (w *PoolWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.handle(watcher, event) {
				continue
			}
			if w.autoRebuild {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("pool watcher error", "error", err)
		case <-timer.C:
			w.rebuild(ctx)
		}
	}
}

// handle reacts to one event and reports whether it changed the pool.
func (w *PoolWatcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if isHidden(event.Name) {
		return false
	}

	op := opName(event.Op)
	if op == "" {
		return false
	}

	// New folders must be watched explicitly; their files count as changes.
	if event.Op.Has(fsnotify.Create) {
		if err := w.addTree(watcher, event.Name); err == nil && isDir(event.Name) {
			watchEventsTotal.WithLabelValues(op).Inc()
			w.retrieval.MarkStale()
			return true
		}
	}

	if !w.watched(event.Name) {
		return false
	}

	watchEventsTotal.WithLabelValues(op).Inc()
	w.retrieval.MarkStale()
	w.logger.Debug("pool changed", "path", event.Name, "op", op)
	return true
}

func (w *PoolWatcher) rebuild(ctx context.Context) {
	status, err := w.retrieval.Rebuild(ctx)
	switch {
	case errors.Is(err, domain.ErrRebuildInProgress):
		w.logger.Info("pool rebuild already running, skipping automatic rebuild")
	case err != nil:
		w.logger.Error("automatic pool rebuild failed", "error", err)
	default:
		w.logger.Info("pool index rebuilt after changes",
			"documents", status.Documents,
			"chunks", status.Chunks,
			"took", status.Took,
		)
	}
}

// addTree watches dir and all folders below it. Files are ignored.
func (w *PoolWatcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(path) {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *PoolWatcher) watched(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}

// isHidden matches dot files, which include in-progress uploads and index temp files.
func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

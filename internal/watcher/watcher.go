// Package watcher provides file watching with debouncing using fsnotify.
// It watches an inbox directory for analysis documents and hands each
// settled file to a handler.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/analysis"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/util"
)

// DefaultDebounce is how long a path must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// maxLoggedError caps handler errors in logs; decode errors can quote
// whole documents.
const maxLoggedError = 512

// Handler processes one settled document file.
type Handler func(ctx context.Context, path string) error

// Watcher dispatches new and rewritten analysis documents in a directory.
type Watcher struct {
	dir          string
	processedDir string
	debounce     time.Duration
	scanExisting bool
	handler      Handler
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingFile
	gen     uint64
	closed  bool
	wg      sync.WaitGroup

	handleMu sync.Mutex
	ready    chan struct{}
}

type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a file is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithProcessedDir moves successfully handled files into dir.
func WithProcessedDir(dir string) Option {
	return func(w *Watcher) {
		w.processedDir = dir
	}
}

// WithScanExisting handles documents already in the directory at startup.
func WithScanExisting(scan bool) Option {
	return func(w *Watcher) {
		w.scanExisting = scan
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher for dir. It does not start watching until Run.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch dir is empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("watch handler is nil")
	}

	w := &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		handler:  handler,
		pending:  make(map[string]*pendingFile),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Watcher) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.Default()
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Matches reports whether path is a document the watcher handles. Hidden
// files (editor swap files, partial downloads) are ignored.
func Matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return analysis.IsDocumentPath(base)
}

// Run watches until ctx is cancelled. Handlers still in flight are waited for.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating watch dir: %w", err)
	}
	if w.processedDir != "" {
		if err := os.MkdirAll(w.processedDir, 0755); err != nil {
			return fmt.Errorf("creating processed dir: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	close(w.ready)
	w.log().Info("watching inbox", "dir", w.dir, "debounce", w.debounce, "processed_dir", w.processedDir)

	if w.scanExisting {
		if err := w.enqueueExisting(ctx); err != nil {
			w.shutdown()
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil

		case evt, ok := <-fsw.Events:
			if !ok {
				w.shutdown()
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !Matches(evt.Name) {
				continue
			}
			w.schedule(ctx, evt.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				w.shutdown()
				return nil
			}
			w.log().Warn("watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) enqueueExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", w.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && Matches(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		w.schedule(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.pending[path] = &pendingFile{
		gen:   gen,
		timer: time.AfterFunc(w.debounce, func() { w.fire(ctx, path, gen) }),
	}
}

func (w *Watcher) fire(ctx context.Context, path string, gen uint64) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || p.gen != gen || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.wg.Add(1)
	w.mu.Unlock()

	defer w.wg.Done()
	w.handle(ctx, path)
}

func (w *Watcher) handle(ctx context.Context, path string) {
	w.handleMu.Lock()
	defer w.handleMu.Unlock()

	if _, err := os.Stat(path); err != nil {
		// Moved or removed while settling.
		return
	}

	if err := w.handler(ctx, path); err != nil {
		w.log().Error("handling document failed", "path", path, "error", util.Truncate(err.Error(), maxLoggedError))
		return
	}

	if w.processedDir == "" {
		return
	}
	dst, err := freePath(w.processedDir, filepath.Base(path))
	if err != nil {
		w.log().Warn("moving processed document failed", "path", path, "error", err)
		return
	}
	if err := os.Rename(path, dst); err != nil {
		w.log().Warn("moving processed document failed", "path", path, "dest", dst, "error", err)
		return
	}
	w.log().Debug("document moved", "path", path, "dest", dst)
}

// freePath returns dir/base, or dir/stem.N.ext for the first N that does
// not exist yet, so an earlier document with the same name is kept.
func freePath(dir, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dst := filepath.Join(dir, base)
	for n := 1; ; n++ {
		_, err := os.Lstat(dst)
		if errors.Is(err, fs.ErrNotExist) {
			return dst, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", dst, err)
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, n, ext))
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.closed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.log().Info("watcher stopped", "dir", w.dir)
}

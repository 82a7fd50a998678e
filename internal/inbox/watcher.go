package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

const (
	// IgnoreFile lists gitignore-style patterns of inbox files to skip.
	IgnoreFile = ".inboxignore"

	processedDir = "processed"
	failedDir    = "failed"
)

// HandlerFunc ingests one file dropped into the inbox.
type HandlerFunc func(ctx context.Context, path string) error

// Watcher ingests resumes dropped into a directory. Files are handed to the
// handler once writes have settled for the debounce period, then moved to
// processed/ or failed/.
type Watcher struct {
	dir          string
	handler      HandlerFunc
	watcher      *fsnotify.Watcher
	ignore       gitignore.IgnoreParser
	extensions   map[string]bool
	debounceTime time.Duration
	log          *zap.Logger

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounceTime = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// WithExtensions restricts the watcher to files with these extensions.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			w.extensions[strings.ToLower(e)] = true
		}
	}
}

// New creates a watcher for dir. The directory is created if missing.
func New(dir string, handler HandlerFunc, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("inbox handler is required")
	}
	for _, sub := range []string{dir, filepath.Join(dir, processedDir), filepath.Join(dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		dir:          dir,
		handler:      handler,
		watcher:      fw,
		ignore:       loadIgnore(dir),
		debounceTime: 500 * time.Millisecond,
		log:          zap.NewNop(),
		pending:      make(map[string]time.Time),
	}
	WithExtensions(".pdf", ".docx")(w)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func loadIgnore(dir string) gitignore.IgnoreParser {
	lines := []string{IgnoreFile, ".*"}
	if data, err := os.ReadFile(filepath.Join(dir, IgnoreFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				lines = append(lines, line)
			}
		}
	}
	return gitignore.CompileIgnoreLines(lines...)
}

// Start queues files already present in the inbox and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	now := time.Now()
	w.mu.Lock()
	for _, e := range entries {
		if !e.IsDir() {
			w.enqueue(filepath.Join(w.dir, e.Name()), now)
		}
	}
	w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.debounceLoop(ctx)

	w.log.Info("inbox watcher started", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watcher and waits for in-flight ingestion.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.watcher.Close()
}

// eventLoop processes filesystem events.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.mu.Lock()
				w.enqueue(event.Name, time.Now())
				w.mu.Unlock()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				delete(w.pending, event.Name)
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// enqueue must be called with mu held.
func (w *Watcher) enqueue(path string, at time.Time) {
	if !w.accepts(path) {
		return
	}
	w.pending[path] = at
}

func (w *Watcher) accepts(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || strings.Contains(rel, string(filepath.Separator)) {
		return false
	}
	if w.ignore.MatchesPath(rel) {
		return false
	}
	return w.extensions[strings.ToLower(filepath.Ext(rel))]
}

// debounceLoop hands settled files to the handler.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.settled(time.Now()) {
				w.process(ctx, path)
			}
		}
	}
}

// settled removes and returns the files quiet for at least the debounce time.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounceTime {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	dest := processedDir
	if err := w.handler(ctx, path); err != nil {
		w.log.Error("inbox ingest failed", zap.String("file", path), zap.Error(err))
		dest = failedDir
	} else {
		w.log.Info("inbox file ingested", zap.String("file", path))
	}

	target := filepath.Join(w.dir, dest, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.log.Warn("failed to move inbox file", zap.String("file", path), zap.Error(err))
	}
}

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stacklok/vgateway/pkg/vglog"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Watcher watches a configuration file for changes and invokes OnReload
// with the freshly loaded and validated document, debounced so a burst of
// writes (e.g. an editor save) triggers one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Resolved)

	mu      sync.Mutex
	timer   *time.Timer
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	stopped sync.Once
}

// NewWatcher builds a Watcher for path. onReload is called on the watcher's
// own goroutine; callers must not block in it for long.
func NewWatcher(path string, onReload func(*Resolved)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		debounce: defaultReloadDebounce,
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It watches the containing directory rather than
// the file itself so editor-style replace-via-rename saves are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	go w.loop()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	w.stopped.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	log := vglog.Scoped("config-watcher", "path", w.path)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(log)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnw("watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(log *zap.SugaredLogger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		doc, err := LoadFile(w.path)
		if err != nil {
			log.Warnw("reload: failed to load config", "error", err)
			return
		}
		resolved, err := doc.Validate()
		if err != nil {
			log.Warnw("reload: invalid config, keeping previous", "error", err)
			return
		}
		w.onReload(resolved)
	})
}

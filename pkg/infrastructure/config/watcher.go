package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheEntropyCollective/flowgraph/pkg/logging"
)

// debounceDelay coalesces the bursts of write events editors and atomic
// saves produce for a single logical change.
const debounceDelay = 250 * time.Millisecond

// Watcher watches a config file and re-applies the logging section when
// the file changes. Only the logging section is applied; the port and
// batching sections are reloaded and handed to onReload but not applied.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	onReload   func(*Config)
	done       chan struct{}
	closeOnce  sync.Once

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	log *logging.Logger
}

// NewWatcher starts watching configPath. onReload, when non-nil, receives
// every successfully reloaded config after its logging section was
// applied.
func NewWatcher(configPath string, onReload func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file so atomic rename saves
	// keep being observed.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		watcher:    watcher,
		configPath: configPath,
		onReload:   onReload,
		done:       make(chan struct{}),
		log:        logging.GetGlobalLogger().WithComponent("config"),
	}
	go w.eventLoop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warningf("config watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		w.log.Warningf("config reload skipped: %v", err)
		return
	}
	if err := cfg.ApplyLogging(); err != nil {
		w.log.Warningf("config reload: applying logging failed: %v", err)
		return
	}
	w.log.Infof("config reloaded from %s", w.configPath)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

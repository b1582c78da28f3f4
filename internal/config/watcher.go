package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/taskcore/internal/log"
)

const debounceDur = 300 * time.Millisecond

// Watcher watches the loaded config file and reloads tunables on
// change, debounced the same way the pack's filesystem watcher
// coalesces bursts of write events from editors and atomic renames.
// Structural fields (connection strings, listen addresses) never
// hot-apply: a change to one is logged and ignored, since picking it
// up requires restarting the listeners that were built from it.
type Watcher struct {
	mu      sync.RWMutex
	current Config

	load func() (Config, error)
	path string

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher builds a Watcher over the file at path, using load to
// re-read and re-validate the full Config on every change.
func NewWatcher(path string, initial Config, load func() (Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := fsw.Add(path); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return &Watcher{
		current: initial,
		load:    load,
		path:    path,
		fsw:     fsw,
		done:    make(chan struct{}),
	}, nil
}

// Current returns the most recently applied Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start runs the debounced watch loop until Stop is called. Intended
// to be run in its own goroutine.
func (w *Watcher) Start() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounceDur, w.reload)
			} else {
				timer.Reset(debounceDur)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatConfig, "config watcher error", err, "path", w.path)
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.load()
	if err != nil {
		log.ErrorErr(log.CatConfig, "config reload failed, keeping previous config", err, "path", w.path)
		return
	}

	w.mu.Lock()
	prev := w.current
	if !prev.StructuralFieldsEqual(next) {
		w.mu.Unlock()
		log.Warn(log.CatConfig, "config reload skipped: structural fields changed, restart required", "path", w.path)
		return
	}
	w.current = next
	w.mu.Unlock()

	log.Info(log.CatConfig, "config reloaded", "path", w.path)
}

// Stop terminates the watch loop and releases the underlying
// filesystem watch.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file into a Runtime when the file changes.
//
// The parent directory is watched so editors that save through a temporary
// file and a rename are picked up. Bursts of events collapse into one reload
// after the debounce delay, and a file whose content did not change since the
// last applied reload is not applied again.
type Watcher struct {
	fs       *fsnotify.Watcher
	runtime  *Runtime
	onReload func(error)
	path     string
	format   Format
	debounce time.Duration
	lastSum  uint64
	once     sync.Once
	closed   atomic.Bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the file must stay quiet before a reload.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook is called after every reload attempt with its outcome.
// Unchanged content does not count as an attempt.
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher watches path and applies its content to rt.
func NewWatcher(path string, rt *Runtime, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromPath(absPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fsw,
		runtime:  rt,
		path:     absPath,
		format:   format,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}

	// The runtime was loaded from this content; rewriting it unchanged is a no-op.
	if data, err := os.ReadFile(absPath); err == nil {
		w.lastSum = xxhash.Sum64(data)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Watch blocks until ctx is canceled or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.closed.Load() {
		return ErrWatcherClosed
	}

	target := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) == target &&
				(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("path", w.path).Msg("config watcher error")

		case <-timer.C:
			w.reload()
		}
	}
}

// reload runs on the Watch goroutine only, which owns lastSum.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload: read failed")
		w.report(err)
		return
	}

	sum := xxhash.Sum64(data)
	if sum == w.lastSum {
		log.Debug().Str("path", w.path).Msg("config file unchanged")
		return
	}

	next, err := LoadFromReaderWithFormat(bytes.NewReader(data), w.format)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload: parse failed, keeping current config")
		w.report(err)
		return
	}

	if err := w.runtime.Apply(next); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload: validation failed, keeping current config")
		w.report(err)
		return
	}
	w.lastSum = sum

	log.Info().
		Str("path", w.path).
		Uint64("generation", w.runtime.Generation()).
		Int("plans", len(next.Plans)).
		Int("keys", len(next.Keys)).
		Msg("config reloaded")
	w.report(nil)
}

func (w *Watcher) report(err error) {
	if w.onReload != nil {
		w.onReload(err)
	}
}

// Close stops the watcher. Closing twice returns ErrWatcherClosed.
func (w *Watcher) Close() error {
	err := ErrWatcherClosed
	w.once.Do(func() {
		w.closed.Store(true)
		err = w.fs.Close()
	})
	return err
}

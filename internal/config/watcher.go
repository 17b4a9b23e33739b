package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the config file on disk.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps a config file loaded and reports edits to it.
//
// The file is polled: a changed mtime triggers a read, and only content with
// a new SHA-256 is reported. An edit that fails to parse or validate is
// logged and the previous config stays current. The client uses the watcher
// so a new endpoint applies to the next upload; the server uses it to
// reload the prompt and log level.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger
	onChange func(old, new *Config)

	// reloadMu serializes reloads from the poller and from Reload.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. onChange, which may be nil,
// is called with the previous and the new config after every accepted edit.
// It must not call Stop or Reload.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		log:      slog.Default(),
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp

	go w.run()
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload rereads the file now, regardless of its mtime. It returns the
// parse or validation error of a rejected edit. An unchanged file is not an
// error and does not call onChange.
func (w *Watcher) Reload() error {
	return w.reload(true)
}

// Stop ends polling and waits for an onChange call in progress to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if err := w.reload(false); err != nil {
				w.log.Warn("config edit rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// reload applies the file's current content. Without force a file whose
// mtime is unchanged is not read at all.
func (w *Watcher) reload(force bool) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		if info.ModTime().Equal(prev.mtime) {
			return nil
		}
		defer func() {
			// A rejected edit is reported once, not on every tick.
			w.mu.Lock()
			if w.stamp.mtime.Equal(prev.mtime) {
				w.stamp.mtime = info.ModTime()
			}
			w.mu.Unlock()
		}()
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if stamp.sum == prev.sum {
		// Touched, or rewritten with the same bytes.
		w.stamp.mtime = stamp.mtime
		w.mu.Unlock()
		return nil
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	w.log.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// read parses the file and returns it with its stamp. The stamp is taken
// from the same bytes that were parsed.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := decodeBytes(data, FormatFor(w.path))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a unit path must be quiet before a change
// is reported, so a directory being copied in is seen once complete.
const DefaultSettleDelay = 500 * time.Millisecond

// ErrWatcherClosed is returned when operating on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Change reports that a unit appeared on or disappeared from disk.
type Change struct {
	Key     Key
	Present bool
}

// Watcher reports unit additions and removals in the unit directories.
type Watcher struct {
	mu sync.Mutex

	fsw    *fsnotify.Watcher
	layout Layout
	delay  time.Duration

	pending map[Key]*time.Timer

	buffer  int
	changes chan Change
	errors  chan error

	closed  bool
	closeCh chan struct{}

	// closedWg tracks the event loop and fires blocked on delivery.
	closedWg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettleDelay sets the quiet period before a change is reported.
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithChangeBuffer sets the capacity of the change channel.
func WithChangeBuffer(n int) WatcherOption {
	return func(w *Watcher) {
		w.buffer = n
	}
}

// NewWatcher watches the layout's unit directories. Directories that do
// not exist are skipped.
func NewWatcher(layout Layout, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		layout:  layout,
		delay:   DefaultSettleDelay,
		pending: make(map[Key]*time.Timer),
		buffer:  64,
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.changes = make(chan Change, max(w.buffer, 0))

	for _, dir := range []string{layout.ModulesDir, layout.CompatDir} {
		if err := fsw.Add(dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			_ = fsw.Close()
			return nil, err
		}
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Changes returns the change channel. It is closed by Close. A settled
// change waits for a reader rather than being dropped.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the error channel. It is closed by Close. Errors that
// arrive while the channel is full are dropped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and closes its channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.changes)
	close(w.errors)
	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if key, ok := w.keyFor(ev.Name); ok {
				w.schedule(key)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// keyFor maps a path inside a watched directory to a unit key.
func (w *Watcher) keyFor(path string) (Key, bool) {
	dir, base := filepath.Dir(path), filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return Key{}, false
	}

	switch {
	case sameDir(dir, w.layout.ModulesDir):
		return Key{Kind: KindStandard, Name: base}, true
	case sameDir(dir, w.layout.CompatDir):
		name, ok := strings.CutSuffix(base, SourceExt)
		if !ok || name == "" {
			return Key{}, false
		}
		return Key{Kind: KindCompat, Name: name}, true
	}
	return Key{}, false
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// schedule reports key after the settle delay, restarting the delay on
// every new event for the same key.
func (w *Watcher) schedule(key Key) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[key]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[key] = time.AfterFunc(w.delay, func() { w.fire(key) })
}

func (w *Watcher) fire(key Key) {
	_, err := w.layout.Locate(key.Kind, key.Name)
	present := err == nil

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	w.closedWg.Add(1)
	w.mu.Unlock()
	defer w.closedWg.Done()

	select {
	case w.changes <- Change{Key: key, Present: present}:
	case <-w.closeCh:
	}
}

// Apply reconciles the loader with a reported change: a new unit is loaded
// with scanning per the code-check setting, and an active unit whose files
// disappeared is unloaded.
func (l *Loader) Apply(ctx context.Context, c Change) error {
	active := l.registry.IsActive(c.Key)
	switch {
	case c.Present && !active:
		return l.load(ctx, c.Key, l.checkCode, nil)
	case !c.Present && active:
		return l.unload(ctx, c.Key, false, false)
	}
	return nil
}

// Follow applies changes from w until ctx is done or w is closed.
func (l *Loader) Follow(ctx context.Context, w *Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-w.Changes():
			if !ok {
				return
			}
			_ = l.Apply(ctx, c)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			l.logger.Warn("watch error: %v", err)
		}
	}
}

// FILE: lixenwraith/confgraph/watch.go
package confgraph

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultMaxWatchers = 100 // Prevent resource exhaustion

// Notifications sent to watchers besides changed top-level keys.
const (
	EventFileDeleted        = "file_deleted"
	EventPermissionsChanged = "permissions_changed"
	EventReloadTimeout      = "reload_timeout"
	EventReloadErrorPrefix  = "reload_error:"
)

// WatchOptions configures file watching behavior
type WatchOptions struct {
	// PollInterval for file stat checks (minimum 100ms)
	PollInterval time.Duration

	// Debounce duration to avoid rapid reloads
	Debounce time.Duration

	// MaxWatchers limits concurrent watch channels
	MaxWatchers int

	// ReloadTimeout for file reload operations
	ReloadTimeout time.Duration

	// VerifyPermissions checks file hasn't been replaced with different permissions
	VerifyPermissions bool
}

// DefaultWatchOptions returns sensible defaults for file watching
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		PollInterval:      DefaultPollInterval,
		Debounce:          DefaultDebounce,
		MaxWatchers:       DefaultMaxWatchers,
		ReloadTimeout:     DefaultReloadTimeout,
		VerifyPermissions: true,
	}
}

// fileState is the last observed stat of a watched file
type fileState struct {
	modTime time.Time
	size    int64
	mode    os.FileMode
}

// watcher manages file watching state
type watcher struct {
	mu               sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
	opts             WatchOptions
	files            map[string]*fileState
	watching         atomic.Bool
	reloadInProgress bool                  // guarded by mu
	pendingReloads   map[string]struct{}   // paths due while a reload runs
	watchers         map[int64]chan string // subscriber channels
	watcherID        atomic.Int64
	debounceTimers   map[string]*time.Timer
}

// AutoUpdate enables automatic reloading when a loaded file changes
func (c *Config) AutoUpdate() {
	c.AutoUpdateWithOptions(DefaultWatchOptions())
}

// AutoUpdateWithOptions enables automatic reloading with custom options.
// A changed file is loaded again and merged; watchers receive the changed top-level keys.
func (c *Config) AutoUpdateWithOptions(opts WatchOptions) {
	// Validate options
	if opts.PollInterval < MinPollInterval {
		opts.PollInterval = MinPollInterval
	}
	if opts.MaxWatchers <= 0 {
		opts.MaxWatchers = DefaultMaxWatchers
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = DefaultReloadTimeout
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.files) == 0 {
		// No file loaded, nothing to watch
		return
	}

	if c.watcher != nil {
		c.watcher.track(c.files)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.watcher = &watcher{
		ctx:            ctx,
		cancel:         cancel,
		opts:           opts,
		files:          make(map[string]*fileState),
		pendingReloads: make(map[string]struct{}),
		watchers:       make(map[int64]chan string),
		debounceTimers: make(map[string]*time.Timer),
	}
	c.watcher.track(c.files)

	c.logger.Debug().Strs("files", c.files).Dur("poll", opts.PollInterval).Msg("Watching configuration files")

	// Start watching
	go c.watcher.watchLoop(c)
}

// StopAutoUpdate stops automatic configuration reloading
func (c *Config) StopAutoUpdate() {
	c.mutex.Lock()
	w := c.watcher
	c.watcher = nil
	c.mutex.Unlock()

	if w != nil {
		w.stop()
	}
}

// Watch returns a channel that receives changed top-level keys and watcher events
func (c *Config) Watch() <-chan string {
	return c.WatchWithOptions(DefaultWatchOptions())
}

// WatchWithOptions is Watch with custom options for a watcher it has to start
func (c *Config) WatchWithOptions(opts WatchOptions) <-chan string {
	c.mutex.RLock()
	w := c.watcher
	c.mutex.RUnlock()

	if w == nil {
		c.AutoUpdateWithOptions(opts)
		c.mutex.RLock()
		w = c.watcher
		c.mutex.RUnlock()
	}

	if w == nil {
		// No file to watch, return closed channel
		ch := make(chan string)
		close(ch)
		return ch
	}

	return w.subscribe()
}

// IsWatching returns true if auto-update is enabled
func (c *Config) IsWatching() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.watcher != nil && c.watcher.watching.Load()
}

// WatcherCount returns the number of active watch channels
func (c *Config) WatcherCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.watcher == nil {
		return 0
	}

	c.watcher.mu.RLock()
	defer c.watcher.mu.RUnlock()
	return len(c.watcher.watchers)
}

// track starts tracking files not yet watched
func (w *watcher) track(files []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range files {
		if _, ok := w.files[path]; ok {
			continue
		}
		state := &fileState{}
		if info, err := os.Stat(path); err == nil {
			state.modTime = info.ModTime()
			state.size = info.Size()
			state.mode = info.Mode()
		}
		w.files[path] = state
	}
}

// watchLoop is the main file watching loop
func (w *watcher) watchLoop(c *Config) {
	if !w.watching.CompareAndSwap(false, true) {
		return // Already watching
	}
	defer w.watching.Store(false)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			paths := sortedKeys(w.files)
			w.mu.RUnlock()
			for _, path := range paths {
				w.checkAndReload(c, path)
			}
		}
	}
}

// checkAndReload checks if a file changed and schedules its reload
func (w *watcher) checkAndReload(c *Config, path string) {
	w.mu.RLock()
	state := w.files[path]
	w.mu.RUnlock()
	if state == nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.notifyWatchers(EventFileDeleted)
		}
		return
	}

	changed := !info.ModTime().Equal(state.modTime) || info.Size() != state.size

	// SECURITY: Verify permissions haven't changed suspiciously
	if w.opts.VerifyPermissions && state.mode != 0 && info.Mode() != state.mode {
		if (info.Mode() & 0077) != (state.mode & 0077) {
			// World/group permissions changed; do not reload
			w.notifyWatchers(EventPermissionsChanged)
			return
		}
	}

	if !changed {
		return
	}

	w.mu.Lock()
	state.modTime = info.ModTime()
	state.size = info.Size()
	state.mode = info.Mode()

	// Debounce rapid changes
	if timer := w.debounceTimers[path]; timer != nil {
		timer.Stop()
	}
	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.performReload(c, path)
	})
	w.mu.Unlock()
}

// performReload reloads path, then every path that came due meanwhile.
// Reloads never run concurrently; a path due during one is queued.
func (w *watcher) performReload(c *Config, path string) {
	w.mu.Lock()
	if w.reloadInProgress {
		w.pendingReloads[path] = struct{}{}
		w.mu.Unlock()
		return
	}
	w.reloadInProgress = true
	w.mu.Unlock()

	for path != "" {
		w.reload(c, path)

		w.mu.Lock()
		path = ""
		if w.ctx.Err() == nil && len(w.pendingReloads) > 0 {
			path = sortedKeys(w.pendingReloads)[0]
			delete(w.pendingReloads, path)
		}
		if path == "" {
			w.reloadInProgress = false
		}
		w.mu.Unlock()
	}
}

// reload loads path again and notifies the changed top-level keys
func (w *watcher) reload(c *Config, path string) {
	ctx, cancel := context.WithTimeout(w.ctx, w.opts.ReloadTimeout)
	defer cancel()

	oldValues := c.Raw()

	done := make(chan error, 1)
	go func() {
		done <- c.LoadFile(path)
	}()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn().Err(err).Str("file", path).Msg("Configuration reload failed")
			w.notifyWatchers(fmt.Sprintf("%s%v", EventReloadErrorPrefix, err))
			return
		}

		newValues := c.Raw()
		for _, key := range sortedKeys(newValues) {
			if oldVal, existed := oldValues[key]; !existed || !reflect.DeepEqual(oldVal, newValues[key]) {
				w.notifyWatchers(key)
			}
		}
		c.logger.Info().Str("file", path).Msg("Configuration reloaded")

	case <-ctx.Done():
		w.notifyWatchers(EventReloadTimeout)
	}
}

// subscribe creates a new watcher channel
func (w *watcher) subscribe() <-chan string {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Check watcher limit
	if len(w.watchers) >= w.opts.MaxWatchers {
		// Return closed channel to prevent resource exhaustion
		ch := make(chan string)
		close(ch)
		return ch
	}

	// Create buffered channel to prevent blocking
	ch := make(chan string, 10)
	id := w.watcherID.Add(1)
	w.watchers[id] = ch

	// Cleanup goroutine
	go func() {
		<-w.ctx.Done()
		w.mu.Lock()
		delete(w.watchers, id)
		close(ch)
		w.mu.Unlock()
	}()

	return ch
}

// notifyWatchers sends change notification to all subscribers
func (w *watcher) notifyWatchers(key string) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, ch := range w.watchers {
		select {
		case ch <- key:
		default:
			// Channel full, drop
		}
	}
}

// stop terminates the watcher
func (w *watcher) stop() {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	for path, timer := range w.debounceTimers {
		timer.Stop()
		delete(w.debounceTimers, path)
	}
	clear(w.pendingReloads)
	w.mu.Unlock()

	// Wait for watch loop to exit with timeout
	for i := 0; i < int(shutdownPollCycles) && w.watching.Load(); i++ {
		time.Sleep(SpinWaitInterval)
	}
}

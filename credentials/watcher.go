package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeadPages/gcloud-requests/internal/tracking"
	"github.com/LeadPages/gcloud-requests/logger"
)

// DefaultMaxWait bounds the time between two ticks of the watcher.
const DefaultMaxWait = time.Hour

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// MaxWait caps the sleep between ticks. Defaults to DefaultMaxWait.
	MaxWait time.Duration
	// Now is the time source used to compute wake delays. Defaults to time.Now.
	Now func() time.Time
}

type watchEntry struct {
	cred Credential
	// wait is the time left before cred needs a refresh, as of the last tick.
	wait time.Duration
}

// Watcher refreshes registered credentials from a single background
// goroutine, waking when the earliest expiry approaches or the watch list changes.
type Watcher struct {
	logger  logger.Logger
	maxWait time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries []*watchEntry
	started bool
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewWatcher creates a watcher. Call Start to launch the background loop.
func NewWatcher(log logger.Logger, opts WatcherOptions) *Watcher {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		logger:  log,
		maxWait: opts.MaxWait,
		now:     opts.Now,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background loop. Calling Start more than once, or after Stop, has no effect.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.run()
}

// Running reports whether the background loop has been started and not stopped.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Watch registers c. If c is not valid it is refreshed once on the calling
// goroutine first. A recoverable refresh failure is logged and c is still
// registered; any other failure is returned and c is not registered.
// Watching an already watched credential only repeats the eager refresh.
func (w *Watcher) Watch(ctx context.Context, c Credential) error {
	if c == nil {
		return &UnexpectedCredentialError{Op: "watch", Err: fmt.Errorf("nil credential")}
	}
	if w.isStopped() {
		return ErrWatcherStopped
	}

	if err := w.eagerRefresh(ctx, c); err != nil {
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrWatcherStopped
	}
	if w.indexLocked(c) < 0 {
		w.entries = append(w.entries, &watchEntry{cred: c, wait: w.maxWait})
	}
	w.mu.Unlock()

	w.signal()
	return nil
}

func (w *Watcher) eagerRefresh(ctx context.Context, c Credential) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedCredentialError{Op: "watch", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if c.Valid() {
		return nil
	}

	err = safeRefresh(ctx, c)
	tracking.RecordRefresh(ctx, tracking.RefreshSourceWatch, err)
	if IsRefreshError(err) {
		w.logger.Warn().Err(err).Msg("Eager credential refresh failed, watching anyway")
		return nil
	}
	return err
}

// Unwatch removes c. Unwatching a credential that is not watched is a no-op.
func (w *Watcher) Unwatch(c Credential) {
	w.mu.Lock()
	removed := w.removeLocked(c)
	w.mu.Unlock()

	if removed {
		w.signal()
	}
}

// Watching reports whether c is currently registered.
func (w *Watcher) Watching(c Credential) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indexLocked(c) >= 0
}

// Len returns the number of registered credentials.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Tick processes every registered credential once and returns how long
// the loop may sleep before the next tick. A credential unwatched while the
// tick is running is neither refreshed nor counted toward the wait.
func (w *Watcher) Tick() time.Duration {
	w.mu.Lock()
	snapshot := make([]*watchEntry, len(w.entries))
	copy(snapshot, w.entries)
	w.mu.Unlock()

	evicted := 0
	for _, e := range snapshot {
		if !w.Watching(e.cred) {
			continue
		}
		remaining, hasExpiry, err := w.process(e.cred)
		if err != nil {
			w.logger.Error().Err(err).Msg("Unexpected error processing credential, no longer watching it")
			w.mu.Lock()
			w.removeLocked(e.cred)
			w.mu.Unlock()
			evicted++
			continue
		}

		wait := w.maxWait
		if hasExpiry {
			wait = max(min(wait, remaining), 0)
		}
		w.mu.Lock()
		e.wait = wait
		w.mu.Unlock()
	}

	w.mu.Lock()
	wait := w.maxWait
	for _, e := range w.entries {
		wait = min(wait, e.wait)
	}
	watched := len(w.entries)
	w.mu.Unlock()

	tracking.RecordWatcherTick(w.ctx, watched, evicted, wait)
	w.logger.Debug().Int("watched", watched).Int("evicted", evicted).Dur("wait", wait).Msg("Credential watcher tick")
	return wait
}

// process refreshes c when needed and returns the time left before it expires.
func (w *Watcher) process(c Credential) (remaining time.Duration, hasExpiry bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedCredentialError{Op: "tick", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if !c.Valid() {
		w.logger.Debug().Msg("Refreshing credential")
		rerr := safeRefresh(w.ctx, c)
		tracking.RecordRefresh(w.ctx, tracking.RefreshSourceWatch, rerr)
		switch {
		case rerr == nil:
			w.logger.Debug().Time("expiry", c.Expiry()).Msg("Credential refreshed")
		case IsRefreshError(rerr):
			w.logger.Warn().Err(rerr).Msg("Failed to refresh credential")
		default:
			return 0, false, rerr
		}
	}

	expiry := c.Expiry()
	if expiry.IsZero() {
		return 0, false, nil
	}
	return expiry.Sub(w.now()), true, nil
}

// Stop terminates the background loop, cancels any refresh in flight and
// waits for the loop to exit. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		started := w.started
		w.stopped = true
		w.mu.Unlock()

		w.cancel()
		close(w.done)
		if started {
			<-w.exited
		}
		w.logger.Debug().Msg("Credential watcher stopped")
	})
}

func (w *Watcher) run() {
	defer close(w.exited)

	timer := time.NewTimer(w.Tick())
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		case <-timer.C:
		}

		wait := w.Tick()
		timer.Stop()
		timer.Reset(wait)
	}
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *Watcher) indexLocked(c Credential) int {
	for i, e := range w.entries {
		if e.cred == c {
			return i
		}
	}
	return -1
}

func (w *Watcher) removeLocked(c Credential) bool {
	i := w.indexLocked(c)
	if i < 0 {
		return false
	}
	w.entries = append(w.entries[:i], w.entries[i+1:]...)
	return true
}

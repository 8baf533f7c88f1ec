package content

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/vitesheet/internal/cryptoutil"
	"github.com/keithlinneman/vitesheet/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher reads the SSM parameter.
	DefaultPollInterval = 30 * time.Second

	maxBackoff            = 5 * time.Minute
	defaultStaleThreshold = 30 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
	pollValidationError
)

// BundleFetcher is the part of Loader the Watcher uses.
type BundleFetcher interface {
	FetchCurrentBundleHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics receives poll outcomes from both watchers.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(kind string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type nopWatcherMetrics struct{}

func (nopWatcherMetrics) IncWatcherPolls()                  {}
func (nopWatcherMetrics) IncWatcherSwaps()                  {}
func (nopWatcherMetrics) IncWatcherError(string)            {}
func (nopWatcherMetrics) ObserveBundleLoadDuration(float64) {}
func (nopWatcherMetrics) SetWatcherLastSuccess(float64)     {}
func (nopWatcherMetrics) SetWatcherStale(bool)              {}

func metricsOrNop(m WatcherMetrics) WatcherMetrics {
	if m == nil {
		return nopWatcherMetrics{}
	}
	return m
}

// WatcherOptions configures the S3 bundle watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration

	// Validation gates every new bundle. Nil means DefaultValidationOptions().
	Validation *ValidationOptions

	// OnSwap runs on the poll goroutine after a bundle is published.
	// A panic inside it is logged and swallowed.
	OnSwap func(snap *Snapshot)

	Metrics WatcherMetrics

	// StaleThreshold bounds how long SSM may stay unreachable before the
	// served content is flagged stale. Zero means 30 minutes.
	StaleThreshold time.Duration
}

// backoff stretches the poll interval while SSM keeps failing.
type backoff struct {
	base     time.Duration
	failures int
}

// fail records a failure and returns the next delay: base doubled per
// consecutive failure, capped at maxBackoff.
func (b *backoff) fail() time.Duration {
	b.failures++
	return b.delay()
}

func (b *backoff) delay() time.Duration {
	d := b.base
	for i := 0; i < b.failures && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// reset clears the failure count and reports whether there was one.
func (b *backoff) reset() (had int) {
	had, b.failures = b.failures, 0
	return had
}

// freshness tracks when SSM last answered and whether that is too long ago.
type freshness struct {
	threshold time.Duration
	lastOK    time.Time
	stale     bool
}

// update returns true when the stale flag flipped.
func (f *freshness) update(ok bool, now time.Time) bool {
	if ok {
		f.lastOK = now
		if f.stale {
			f.stale = false
			return true
		}
		return false
	}
	if !f.stale && now.Sub(f.lastOK) > f.threshold {
		f.stale = true
		return true
	}
	return false
}

// Watcher polls SSM and publishes new bundles into a Manager.
type Watcher struct {
	loader     BundleFetcher
	manager    *Manager
	logger     log.Logger
	interval   time.Duration
	validation ValidationOptions
	onSwap     func(*Snapshot)
	metrics    WatcherMetrics

	currentHash string
	backoff     backoff
	fresh       freshness

	polls, swaps int64
}

// NewWatcher builds a watcher; Run starts it.
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = defaultStaleThreshold
	}
	w := &Watcher{
		loader:     opts.Loader,
		manager:    opts.Manager,
		logger:     opts.Logger,
		interval:   opts.PollInterval,
		validation: DefaultValidationOptions(),
		onSwap:     opts.OnSwap,
		metrics:    metricsOrNop(opts.Metrics),
		backoff:    backoff{base: opts.PollInterval},
		fresh:      freshness{threshold: opts.StaleThreshold, lastOK: time.Now()},
	}
	if opts.Validation != nil {
		w.validation = *opts.Validation
	}
	// skip re-downloading the bundle that was loaded at startup
	if snap, ok := opts.Manager.Get(); ok {
		w.currentHash = snap.Meta.Hash
	}
	return w
}

// Run polls until ctx is done and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping",
				"reason", ctx.Err(), "polls", w.polls, "swaps", w.swaps)
			return ctx.Err()
		case <-timer.C:
			res := w.checkOnce(ctx)
			w.observe(ctx, res, time.Now())
			timer.Reset(w.nextDelay(ctx, res))
		}
	}
}

// nextDelay picks the wait before the next poll.
func (w *Watcher) nextDelay(ctx context.Context, res pollResult) time.Duration {
	if res == pollSSMError {
		d := w.backoff.fail()
		w.logger.Warn(ctx, "content watcher: backing off",
			"consecutive_errors", w.backoff.failures, "next_poll_in", d.String())
		return d
	}
	if had := w.backoff.reset(); had > 0 {
		w.logger.Info(ctx, "content watcher: SSM reachable again", "had_consecutive_errors", had)
	}
	return w.interval
}

// observe feeds a poll result into the freshness tracker and reports flips.
func (w *Watcher) observe(ctx context.Context, res pollResult, now time.Time) {
	since := now.Sub(w.fresh.lastOK)
	if !w.fresh.update(res != pollSSMError, now) {
		return
	}
	w.metrics.SetWatcherStale(w.fresh.stale)
	if w.fresh.stale {
		w.logger.Error(ctx, fmt.Errorf("no successful SSM read for %s", since.Truncate(time.Second)),
			"content watcher: serving content that can no longer be verified as current")
		return
	}
	w.logger.Info(ctx, "content watcher: content freshness restored")
}

// checkOnce runs one read, compare and swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.polls++
	w.metrics.IncWatcherPolls()

	hash, err := w.loader.FetchCurrentBundleHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: SSM poll failed")
		w.metrics.IncWatcherError("ssm")
		return pollSSMError
	}
	w.metrics.SetWatcherLastSuccess(float64(time.Now().Unix()))

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}
	w.logger.Info(ctx, "content watcher: bundle hash changed",
		"old_hash", truncHash(w.currentHash), "new_hash", truncHash(hash))

	start := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	w.metrics.ObserveBundleLoadDuration(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: failed to load bundle", "hash", truncHash(hash))
		w.metrics.IncWatcherError("load")
		return pollLoadError
	}

	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "content watcher: bundle rejected, keeping current content",
			"rejected_hash", truncHash(hash), "current_hash", truncHash(w.currentHash))
		w.metrics.IncWatcherError("validation")
		return pollValidationError
	}

	prev := w.manager.Swap(*snap)
	w.currentHash = hash
	w.swaps++
	w.metrics.IncWatcherSwaps()
	w.logger.Info(ctx, "content watcher: bundle swapped",
		"old_hash", truncHash(prevHash(prev)),
		"new_hash", truncHash(hash),
		"version", snap.Meta.Version,
		"pages", snap.Index.Len(),
		"page_delta", snap.Index.Len()-prevPages(prev),
		"total_swaps", w.swaps,
	)
	notifySwap(ctx, w.logger, w.onSwap, snap)
	return pollSwapped
}

// notifySwap calls fn and contains any panic it raises.
func notifySwap(ctx context.Context, logger log.Logger, fn func(*Snapshot), snap *Snapshot) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
				"content: swap callback panicked", "hash", truncHash(snap.Meta.Hash))
		}
	}()
	fn(snap)
}

func prevHash(s *Snapshot) string {
	if s == nil {
		return ""
	}
	return s.Meta.Hash
}

func prevPages(s *Snapshot) int {
	if s == nil || s.Index == nil {
		return 0
	}
	return s.Index.Len()
}

// truncHash shortens a hash to 12 characters for logs.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

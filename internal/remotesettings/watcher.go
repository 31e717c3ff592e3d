package remotesettings

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-echo/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	// caps exponential backoff on consecutive fetch errors
	maxBackoff = 5 * time.Minute

	defaultStaleThreshold = 30 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollFetchError
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveSettingsLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Fetcher      Fetcher
	Manager      *Manager
	PollInterval time.Duration

	// OnSwap runs on the poll goroutine after each swap. Panics are logged
	// and swallowed.
	OnSwap func(s *Snapshot)

	Metrics WatcherMetrics

	// StaleThreshold is how long since the last successful fetch before the
	// watcher reports itself stale. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for parameter changes and swaps snapshots into the manager.
type Watcher struct {
	fetcher  Fetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	onSwap   func(s *Snapshot)
	metrics  WatcherMetrics

	currentRevision string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
	swapCount int64
}

func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}

	// seed from the manager so the first poll does not re-swap the startup load
	current := opts.Manager.SettingsRevision()

	return &Watcher{
		fetcher:         opts.Fetcher,
		manager:         opts.Manager,
		logger:          opts.Logger,
		interval:        interval,
		onSwap:          opts.OnSwap,
		metrics:         opts.Metrics,
		currentRevision: current,
		staleThreshold:  staleThreshold,
		lastSuccessAt:   time.Now(),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "remote settings watcher starting",
		"poll_interval", w.interval.String(),
		"current_revision", truncRevision(w.currentRevision),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "remote settings watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			if next, changed := w.afterPoll(ctx, result, time.Now()); changed {
				ticker.Reset(next)
			}
		}
	}
}

// afterPoll updates backoff and staleness state. It returns the next tick
// interval when it differs from the current one.
func (w *Watcher) afterPoll(ctx context.Context, result pollResult, now time.Time) (time.Duration, bool) {
	var next time.Duration
	var changed bool

	if result == pollFetchError {
		w.consecutiveErrs++
		next, changed = w.backoffDuration(), true
		w.logger.Warn(ctx, "remote settings watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", next.String(),
		)
	} else if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "remote settings watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		next, changed = w.interval, true
	}

	if result != pollFetchError {
		if w.staleLogged {
			w.logger.Info(ctx, "remote settings watcher: staleness recovered")
			w.staleLogged = false
			if w.metrics != nil {
				w.metrics.SetWatcherStale(false)
			}
		}
	} else if since := now.Sub(w.lastSuccessAt); since > w.staleThreshold && !w.staleLogged {
		w.logger.Error(ctx, fmt.Errorf("last successful fetch was %s ago", since.Truncate(time.Second)),
			"remote settings watcher: settings are stale",
		)
		w.staleLogged = true
		if w.metrics != nil {
			w.metrics.SetWatcherStale(true)
		}
	}
	return next, changed
}

// checkOnce performs a single fetch-compare-swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	start := time.Now()
	snap, err := w.fetcher.Fetch(ctx)
	if w.metrics != nil {
		w.metrics.ObserveSettingsLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "remote settings watcher: fetch failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("fetch")
		}
		return pollFetchError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if snap.Revision == w.currentRevision {
		return pollNoChange
	}

	old := w.currentRevision
	w.manager.Set(snap)
	w.currentRevision = snap.Revision
	w.swapCount++

	w.logger.Info(ctx, "remote settings watcher: snapshot swapped",
		"old_revision", truncRevision(old),
		"new_revision", truncRevision(snap.Revision),
		"parameters", len(snap.Values),
		"total_swaps", w.swapCount,
	)
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r),
						"remote settings watcher: OnSwap callback panicked, continuing",
						"revision", truncRevision(snap.Revision),
					)
				}
			}()
			w.onSwap(snap)
		}()
	}
	return pollSwapped
}

// backoffDuration doubles the interval per consecutive error, capped at
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func truncRevision(r string) string {
	if len(r) > 12 {
		return r[:12]
	}
	return r
}

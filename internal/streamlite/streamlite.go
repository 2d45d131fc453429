// Package streamlite provides connectors that stream document changes from a
// store into the search indexes.
package streamlite

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/search/indexer"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// ErrRunning is returned by Start on a connector that is already running
var ErrRunning = errors.New("connector already running")

// Connector represents a data source connector
type Connector interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	name      string
	startedAt time.Time
}

// NewBaseConnector creates a new base connector
func NewBaseConnector(name string) *BaseConnector {
	return &BaseConnector{
		name: name,
	}
}

// Name returns the connector name
func (c *BaseConnector) Name() string {
	return c.name
}

// StartedAt returns when the connector was last started
func (c *BaseConnector) StartedAt() time.Time {
	return c.startedAt
}

// Syncer applies store changes after a watermark
type Syncer interface {
	Sync(ctx context.Context, store video.DocumentStore, since time.Time) (indexer.SyncResult, error)
}

// Option configures a ChangeFeed
type Option func(*ChangeFeed)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) Option {
	return func(f *ChangeFeed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithRate caps how often syncs may run, with burst allowance
func WithRate(perSecond float64, burst int) Option {
	return func(f *ChangeFeed) {
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithWatermark starts the feed after t instead of from the beginning
func WithWatermark(t time.Time) Option {
	return func(f *ChangeFeed) {
		f.watermark = t
	}
}

// ChangeFeed polls a document store for changes and drives an indexer sync
type ChangeFeed struct {
	*BaseConnector

	store    video.DocumentStore
	syncer   Syncer
	interval time.Duration
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu        sync.Mutex
	watermark time.Time
	trigger   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewChangeFeed creates a change feed from store into syncer
func NewChangeFeed(store video.DocumentStore, syncer Syncer, opts ...Option) *ChangeFeed {
	f := &ChangeFeed{
		BaseConnector: NewBaseConnector("change-feed"),
		store:         store,
		syncer:        syncer,
		interval:      30 * time.Second,
		limiter:       rate.NewLimiter(rate.Limit(1), 1),
		logger:        obs.Logger("streamlite"),
		trigger:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Watermark returns the latest change time applied
func (f *ChangeFeed) Watermark() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

// Poll waits for the rate limiter, then syncs everything changed after the
// watermark and advances it.
func (f *ChangeFeed) Poll(ctx context.Context) (indexer.SyncResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return indexer.SyncResult{}, err
	}

	since := f.Watermark()
	res, err := f.syncer.Sync(ctx, f.store, since)
	if err != nil {
		return res, err
	}

	f.mu.Lock()
	if res.Watermark.After(f.watermark) {
		f.watermark = res.Watermark
	}
	f.mu.Unlock()
	return res, nil
}

// Trigger requests a poll ahead of the next tick. It never blocks.
func (f *ChangeFeed) Trigger() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Start polls once immediately and then on every interval until Stop or ctx
// cancellation.
func (f *ChangeFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	f.startedAt = time.Now()

	go f.run(ctx, f.done)

	f.logger.Info().Dur("interval", f.interval).Msg("change feed started")
	return nil
}

// Stop halts polling and waits for an in-flight sync to finish
func (f *ChangeFeed) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	f.logger.Info().Time("watermark", f.Watermark()).Msg("change feed stopped")
	return nil
}

func (f *ChangeFeed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-f.trigger:
		}
		f.pollAndLog(ctx)
	}
}

func (f *ChangeFeed) pollAndLog(ctx context.Context) {
	res, err := f.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Error().Err(err).Msg("change feed sync failed")
		}
		return
	}
	if res.Indexed > 0 || res.Deleted > 0 {
		f.logger.Debug().
			Int("indexed", res.Indexed).
			Int("deleted", res.Deleted).
			Msg("change feed applied changes")
	}
}

// Package poller watches a job until it reaches a terminal status.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
	"github.com/tvoe/cliphub/internal/metrics"
	"github.com/tvoe/cliphub/internal/store"
)

const (
	DefaultInterval       = 2 * time.Second
	DefaultMaxRetries     = 5
	DefaultBackoffCeiling = 30 * time.Second
)

// Fetcher reads the current status of a job. A store.ErrNotFound result stops the watch.
type Fetcher interface {
	FetchJob(ctx context.Context, id uuid.UUID) (domain.JobStatusView, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, id uuid.UUID) (domain.JobStatusView, error)

// FetchJob implements Fetcher
func (f FetcherFunc) FetchJob(ctx context.Context, id uuid.UUID) (domain.JobStatusView, error) {
	return f(ctx, id)
}

// Options tune a single watch. Zero values take defaults; MaxWait zero means no limit.
type Options struct {
	Interval       time.Duration
	MaxWait        time.Duration
	MaxRetries     int
	BackoffCeiling time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffCeiling <= 0 {
		o.BackoffCeiling = DefaultBackoffCeiling
	}
	return o
}

// Poller owns the active watches. At most one watch per job is active;
// starting another for the same job cancels and replaces the first.
type Poller struct {
	fetcher Fetcher
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	watches map[uuid.UUID]*Watch
}

// New creates a poller
func New(fetcher Fetcher, logger *zap.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		fetcher: fetcher,
		logger:  logger,
		metrics: m,
		watches: make(map[uuid.UUID]*Watch),
	}
}

// Watch is a handle on one job watch
type Watch struct {
	JobID uuid.UUID

	updates chan domain.JobStatusView
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	replaced atomic.Bool
}

// ErrReplaced ends a watch that a newer watch of the same job took over
var ErrReplaced = errors.New("watch replaced by a newer watch of the same job")

// Updates delivers each distinct snapshot. It is closed when the watch ends.
func (w *Watch) Updates() <-chan domain.JobStatusView {
	return w.updates
}

// Done is closed when the watch ends
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Cancel stops scheduling polls. An in-flight fetch is allowed to finish.
func (w *Watch) Cancel() {
	w.cancel()
}

// Err returns why the watch ended: nil after a terminal status or Cancel,
// ErrReplaced, PollTimeoutError, TransportError, store.ErrNotFound or the
// parent context error.
// It blocks until the watch ends.
func (w *Watch) Err() error {
	<-w.done
	return w.err
}

// Watch starts polling jobID. The caller must drain Updates.
func (p *Poller) Watch(ctx context.Context, jobID uuid.UUID, opts Options) *Watch {
	opts = opts.withDefaults()

	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		JobID:   jobID,
		updates: make(chan domain.JobStatusView, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.watches[jobID]
	p.watches[jobID] = w
	p.mu.Unlock()

	if prev != nil {
		prev.replaced.Store(true)
		prev.Cancel()
		<-prev.done
	}

	go p.run(wctx, ctx, w, opts)
	return w
}

// Active returns the number of running watches
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

func (p *Poller) release(w *Watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watches[w.JobID] == w {
		delete(p.watches, w.JobID)
	}
}

func (p *Poller) run(ctx, parent context.Context, w *Watch, opts Options) {
	defer func() {
		p.release(w)
		close(w.updates)
		close(w.done)
	}()

	log := p.logger.With(zap.String("jobId", w.JobID.String()))
	started := time.Now()

	var deadline <-chan time.Time
	if opts.MaxWait > 0 {
		timer := time.NewTimer(opts.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	var last *domain.JobStatusView
	for {
		view, err := p.fetchWithRetry(ctx, w.JobID, opts, deadline, log)
		if err != nil {
			switch {
			case errors.Is(err, errDeadline):
				w.err = &domain.PollTimeoutError{JobID: w.JobID, Waited: time.Since(started)}
			case ctx.Err() != nil:
				w.err = w.stopped(parent)
			default:
				w.err = err
			}
			return
		}

		if last == nil || changed(*last, view) {
			v := view
			last = &v
			select {
			case w.updates <- view:
			case <-ctx.Done():
				w.err = w.stopped(parent)
				return
			}
		}

		if view.Status.IsTerminal() {
			return
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			w.err = w.stopped(parent)
			return
		case <-deadline:
			timer.Stop()
			w.err = &domain.PollTimeoutError{JobID: w.JobID, Waited: time.Since(started)}
			return
		}
	}
}

// stopped explains a cancelled watch context
func (w *Watch) stopped(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if w.replaced.Load() {
		return ErrReplaced
	}
	return nil
}

var errDeadline = errors.New("max wait elapsed")

// fetchWithRetry fetches once, retrying transient failures with exponential
// backoff capped at BackoffCeiling for at most MaxRetries retries.
func (p *Poller) fetchWithRetry(ctx context.Context, jobID uuid.UUID, opts Options, deadline <-chan time.Time, log *zap.Logger) (domain.JobStatusView, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.Interval
	eb.MaxInterval = opts.BackoffCeiling
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := 0
	for {
		// the in-flight fetch is not tied to ctx so Cancel lets it finish
		view, err := p.fetcher.FetchJob(context.WithoutCancel(ctx), jobID)
		attempts++
		if err == nil {
			return view, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.JobStatusView{}, err
		}

		p.metrics.IncrementPollErrors()
		if attempts > opts.MaxRetries {
			return domain.JobStatusView{}, &domain.TransportError{JobID: jobID, Attempts: attempts, Err: err}
		}

		wait := eb.NextBackOff()
		log.Warn("job status fetch failed, backing off",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return domain.JobStatusView{}, ctx.Err()
		case <-deadline:
			timer.Stop()
			return domain.JobStatusView{}, errDeadline
		}
	}
}

func changed(a, b domain.JobStatusView) bool {
	return a.Status != b.Status ||
		a.ProgressPercentage != b.ProgressPercentage ||
		!a.UpdatedAt.Equal(b.UpdatedAt)
}

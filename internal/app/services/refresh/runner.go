package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tenenciaexterior/marketdata/internal/app/system"
	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

var _ system.Service = (*Runner)(nil)

// DefaultPollInterval is the REST polling cadence used while the push feed is
// down.
const DefaultPollInterval = 60 * time.Second

// Runner triggers refresh cycles on a cron schedule. While the push feed is
// lost it switches to a fixed polling cadence so quotes keep moving.
type Runner struct {
	orch         *Orchestrator
	log          *logger.Logger
	schedule     cron.Schedule
	pollInterval time.Duration
	polling      int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner creates a lifecycle-managed refresh runner. The schedule uses the
// standard cron grammar including descriptors such as "@every 60s".
func NewRunner(orch *Orchestrator, spec string, log *logger.Logger) (*Runner, error) {
	if log == nil {
		log = logger.NewDefault("refresh-runner")
	}
	if spec == "" {
		spec = "@every 60s"
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	return &Runner{
		orch:         orch,
		log:          log,
		schedule:     schedule,
		pollInterval: DefaultPollInterval,
	}, nil
}

func (r *Runner) Name() string { return "refresh-runner" }

// FeedLost switches the runner to the fixed REST polling cadence. Called by
// the stream manager after its reconnect budget is exhausted.
func (r *Runner) FeedLost() {
	if atomic.CompareAndSwapInt32(&r.polling, 0, 1) {
		r.log.Warn("push feed lost, falling back to REST polling")
	}
}

// FeedRestored returns the runner to its cron schedule.
func (r *Runner) FeedRestored() {
	if atomic.CompareAndSwapInt32(&r.polling, 1, 0) {
		r.log.Info("push feed restored, resuming scheduled refresh")
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// First cycle runs immediately so the cache and the push-feed
		// subscriptions line up with the tracked set before the first
		// scheduled tick.
		r.runCycle(runCtx, "startup")

		timer := time.NewTimer(r.nextDelay())
		defer timer.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
				r.tick(runCtx)
				timer.Reset(r.nextDelay())
			}
		}
	}()

	r.log.Info("refresh runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("refresh runner stopped")
	return nil
}

func (r *Runner) nextDelay() time.Duration {
	if atomic.LoadInt32(&r.polling) == 1 {
		return r.pollInterval
	}
	now := time.Now()
	delay := r.schedule.Next(now).Sub(now)
	if delay <= 0 {
		delay = time.Second
	}
	return delay
}

func (r *Runner) tick(ctx context.Context) {
	trigger := "schedule"
	if atomic.LoadInt32(&r.polling) == 1 {
		trigger = "poll-fallback"
	}
	r.runCycle(ctx, trigger)
}

func (r *Runner) runCycle(ctx context.Context, trigger string) {
	if _, err := r.orch.RunCycle(ctx, trigger); err != nil && !errors.Is(err, ErrCycleRunning) {
		r.log.WithError(err).Warn("scheduled refresh failed")
	}
}

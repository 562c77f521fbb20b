// Package fetch paces outbound provider calls so the application stays under
// upstream rate limits, and runs bulk refreshes in bounded settle-all
// batches.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

const (
	// DefaultInterCallDelay keeps sequential calls under 60 req/min with
	// headroom.
	DefaultInterCallDelay = 400 * time.Millisecond

	// DefaultBatchSize bounds concurrency during bulk refreshes.
	DefaultBatchSize = 5
)

// Queue serialises individual provider calls with a fixed inter-call delay.
type Queue struct {
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewQueue creates a queue issuing at most one call per delay interval.
func NewQueue(delay time.Duration, log *logger.Logger) *Queue {
	if delay <= 0 {
		delay = DefaultInterCallDelay
	}
	if log == nil {
		log = logger.NewDefault("fetch-queue")
	}
	return &Queue{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		log:     log,
	}
}

// Do waits for the pacing slot and then runs fn. Context cancellation while
// waiting aborts without invoking fn.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Batches partitions symbols into fixed-size groups, preserving order.
func Batches(symbols []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[i:end])
	}
	return out
}

// Result reports the outcome for one symbol in a batch run.
type Result struct {
	Symbol string
	Err    error
}

// RunBatches processes symbols in groups of size, issuing the calls within a
// batch concurrently and waiting for the whole batch before starting the
// next. Every symbol settles: an error (or panic) in one call never cancels
// its siblings.
func (q *Queue) RunBatches(ctx context.Context, symbols []string, size int, fn func(ctx context.Context, symbol string) error) []Result {
	results := make([]Result, 0, len(symbols))

	for _, batch := range Batches(symbols, size) {
		if ctx.Err() != nil {
			for _, s := range batch {
				results = append(results, Result{Symbol: s, Err: ctx.Err()})
			}
			continue
		}

		batchResults := make([]Result, len(batch))
		var wg sync.WaitGroup
		for i, symbol := range batch {
			wg.Add(1)
			go func(i int, symbol string) {
				defer wg.Done()
				batchResults[i] = Result{Symbol: symbol, Err: q.settle(ctx, symbol, fn)}
			}(i, symbol)
		}
		wg.Wait()
		results = append(results, batchResults...)
	}
	return results
}

// settle invokes fn and converts a panic into an ordinary error so one bad
// symbol cannot take down the batch.
func (q *Queue) settle(ctx context.Context, symbol string, fn func(ctx context.Context, symbol string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch for %s panicked: %v", symbol, r)
			q.log.WithField("symbol", symbol).WithField("panic", r).Error("recovered panic in batch fetch")
		}
	}()
	return fn(ctx, symbol)
}

// Package sources contains the upstream market data adapters and the
// ordered fallback chain they share. Adapters normalise provider payloads
// into the domain types and report failures as errors; callers walk the
// chain until a source succeeds or a definitive "symbol not found" stops it.
package sources

import (
	"context"
	"errors"

	"github.com/tenenciaexterior/marketdata/pkg/logger"
)

// ErrSymbolNotFound marks a definitive upstream answer: the symbol does not
// exist. Chains stop immediately instead of burning further attempts.
var ErrSymbolNotFound = errors.New("symbol not found")

// ErrNoData marks a sentinel "empty" payload such as a zero price.
var ErrNoData = errors.New("no data in upstream payload")

// Attempt is one candidate in an ordered fallback chain.
type Attempt[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// First tries each attempt in order and returns the first success. Failures
// are logged and swallowed; a wrapped ErrSymbolNotFound short-circuits the
// chain. When every attempt fails the last error is returned.
func First[T any](ctx context.Context, log *logger.Logger, attempts ...Attempt[T]) (T, error) {
	var zero T
	var lastErr error

	for _, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := attempt.Run(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if errors.Is(err, ErrSymbolNotFound) {
			if log != nil {
				log.WithField("source", attempt.Name).Debug("symbol not found, stopping fallback chain")
			}
			return zero, err
		}
		if log != nil {
			log.WithError(err).WithField("source", attempt.Name).Warn("source failed, trying next")
		}
	}

	if lastErr == nil {
		lastErr = ErrNoData
	}
	return zero, lastErr
}

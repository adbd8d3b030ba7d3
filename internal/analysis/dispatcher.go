// Package analysis runs the background conversation analyses: rapport
// scoring after each exchange, journal synthesis when a conversation ends,
// and memory extraction. All of it is fire-and-forget; a failed analysis
// logs and leaves state untouched.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// jobTimeout bounds a single background analysis call.
const jobTimeout = 60 * time.Second

// Dispatcher runs analysis jobs on their own goroutines. Callers never wait
// on a job and there is no result channel; jobs publish through the stores
// they capture.
type Dispatcher struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "analysis").Logger(),
	}
}

// Go runs fn in the background with a bounded context. Panics are contained
// so a misbehaving analysis can never take the app down.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Str("job", name).Interface("panic", r).Msg("Analysis job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		fn(ctx)
		d.logger.Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("Analysis job finished")
	}()
}

// Wait blocks until all dispatched jobs finish. Used at shutdown so a final
// journal update isn't lost to process exit.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

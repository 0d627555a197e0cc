package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher runs sync work detached from the request that triggered it.
// Tasks get their own context with a generous deadline, never the request's:
// the response must not wait on them and they are not cancellable once
// dispatched. Task errors end up in the log, not in the caller.
type Dispatcher struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose tasks are bounded by timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Dispatcher{timeout: timeout}
}

// Go runs fn in the background. It returns immediately.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("task", name).Msg("background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("task", name).Dur("elapsed", time.Since(start)).Msg("background task failed")
			return
		}
		log.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("background task done")
	}()
}

// Wait blocks until every dispatched task has finished or ctx expires.
// A shutdown mid-task may leave a partial reconciliation behind; the next
// full sync heals it.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

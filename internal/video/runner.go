package video

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Task is a unit of background work. ctx is cancelled when the Runner shuts down.
type Task func(ctx context.Context) error

// Runner runs fire-and-forget tasks on their own goroutines. Tasks sharing a
// key never run concurrently: a duplicate started while one is in flight
// joins it instead of running again.
type Runner struct {
	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts task under key. A panic inside task is recovered and delivered
// to onErr as a *PanicError, as is any returned error. onErr may be nil.
func (r *Runner) Go(key string, task Task, onErr func(error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		owner := false
		_, err, _ := r.group.Do(key, func() (v any, err error) {
			owner = true
			defer func() {
				if rec := recover(); rec != nil {
					err = &PanicError{Value: rec, Stack: debug.Stack()}
				}
			}()
			return nil, task(r.ctx)
		})
		if !owner {
			return
		}
		if err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Shutdown cancels running tasks and waits for them to return or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

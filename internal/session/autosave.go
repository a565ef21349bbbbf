package session

import (
	"context"
	"time"
)

// DefaultAutosaveInterval is the checkpoint period used when none is configured.
const DefaultAutosaveInterval = 30 * time.Second

// scheduler drives periodic checkpoints for one session. Ticks run on a
// single goroutine; a tick that fires while the previous flush is still
// running is dropped by the ticker rather than queued.
type scheduler struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startScheduler(interval time.Duration, tick func(ctx context.Context)) *scheduler {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &scheduler{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	return s
}

// stop cancels the scheduler, aborting a flush in progress, and waits for
// the loop to exit.
func (s *scheduler) stop() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

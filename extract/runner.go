package extract

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UserLister enumerates the users whose memories the background runner
// should scan on each pass.
type UserLister func(ctx context.Context) ([]string, error)

// Runner periodically drives extraction in the background. It never runs on
// the request path and never blocks context assembly.
type Runner struct {
	extractor *Extractor
	users     UserLister
	interval  time.Duration
	timeout   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewRunner creates a background runner. interval defaults to 5m, timeout
// to half the interval.
func NewRunner(extractor *Extractor, users UserLister, interval, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = interval / 2
	}
	return &Runner{
		extractor: extractor,
		users:     users,
		interval:  interval,
		timeout:   timeout,
		stopCh:    make(chan struct{}),
		logger:    logger.With(zap.String("component", "extract_runner")),
	}
}

// Start launches the background loop. Safe to call once.
func (r *Runner) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("extraction runner started",
			zap.Duration("interval", r.interval))
		for {
			select {
			case <-ticker.C:
				r.runOnce()
			case <-r.stopCh:
				r.logger.Info("extraction runner stopped")
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for any in-flight pass to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// runOnce performs one bounded extraction pass over every listed user.
func (r *Runner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	userIDs, err := r.users(ctx)
	if err != nil {
		r.logger.Warn("user listing failed, skipping pass", zap.Error(err))
		return
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := r.extractor.ExtractBatch(ctx, userID, ""); err != nil {
			r.logger.Warn("extraction pass failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

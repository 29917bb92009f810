package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

// Executor fans all adapters out concurrently and reports exactly one
// Outcome per adapter. One adapter failing, timing out, or panicking
// never touches its siblings.
type Executor struct {
	pool    *driver.Pool
	timeout time.Duration
	log     *zap.Logger
}

func NewExecutor(pool *driver.Pool, timeout time.Duration, log *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{pool: pool, timeout: timeout, log: log}
}

// Run launches every adapter and streams one progress line per adapter to
// logFn in completion order. The returned slice also follows completion
// order, never config order.
func (e *Executor) Run(ctx context.Context, adapters []types.Adapter, logFn func(string)) []types.Outcome {
	if logFn == nil {
		logFn = func(string) {}
	}

	ch := make(chan types.Outcome, len(adapters))
	var g errgroup.Group
	for _, ad := range adapters {
		ad := ad
		g.Go(func() error {
			ch <- e.runOne(ctx, ad)
			return nil
		})
	}

	done := make(chan struct{})
	outcomes := make([]types.Outcome, 0, len(adapters))
	go func() {
		defer close(done)
		for o := range ch {
			if o.Failed() {
				logFn(fmt.Sprintf("❌ %s: %v", o.Source, o.Err))
				e.log.Warn("source failed",
					zap.String("source", o.Source),
					zap.Duration("elapsed", o.Elapsed),
					zap.Error(o.Err))
			} else {
				logFn(fmt.Sprintf("✅ %s: %d opportunities found", o.Source, len(o.Records)))
				e.log.Info("source done",
					zap.String("source", o.Source),
					zap.Int("records", len(o.Records)),
					zap.Duration("elapsed", o.Elapsed))
			}
			outcomes = append(outcomes, o)
		}
	}()

	_ = g.Wait()
	close(ch)
	<-done
	return outcomes
}

func (e *Executor) runOne(ctx context.Context, ad types.Adapter) types.Outcome {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var sess *driver.Session
	if ad.RequiresDriver() {
		var err error
		sess, err = e.pool.Acquire(fetchCtx)
		if err != nil {
			return types.Outcome{
				Source:  ad.Name(),
				Err:     fmt.Errorf("acquire browser session: %w", err),
				Elapsed: time.Since(start),
			}
		}
	}

	records, err := e.fetch(fetchCtx, ad, sess)
	if sess != nil {
		e.pool.Release(sess, err != nil)
	}
	if err == nil && fetchCtx.Err() != nil {
		err = fetchCtx.Err()
	}
	if err != nil {
		return types.Outcome{Source: ad.Name(), Err: err, Elapsed: time.Since(start)}
	}
	return types.Outcome{Source: ad.Name(), Records: records, Elapsed: time.Since(start)}
}

// fetch isolates the adapter call so a panic inside one integration turns
// into that adapter's failure instead of taking the run down.
func (e *Executor) fetch(ctx context.Context, ad types.Adapter, sess *driver.Session) (records []domain.RawRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records = nil
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return ad.Fetch(ctx, sess)
}

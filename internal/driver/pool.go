package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("driver pool is closed")

	// ErrSessionUnavailable wraps factory failures so callers can tell
	// "browser never launched" apart from a session dying mid-use.
	ErrSessionUnavailable = errors.New("browser session unavailable")
)

// Session is one headless browser. Adapters run chromedp actions against
// Ctx; they never manage the underlying allocator themselves.
type Session struct {
	Ctx context.Context

	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// Run executes chromedp actions with a deadline carried in by the caller.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Session) close() {
	if s.cancelBrowser != nil {
		s.cancelBrowser()
	}
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}

// Factory builds one browser session. Swapped for a fake in tests.
type Factory func(ctx context.Context) (*Session, error)

// Pool bounds concurrent headless sessions. Sessions are created lazily:
// the pool hands out permits, and a permit without a live session gets a
// fresh browser on the way out. A session released as failed is destroyed
// and its permit returned, so a crash costs one browser, never a slot.
type Pool struct {
	factory Factory
	log     *zap.Logger

	mu      sync.Mutex
	idle    []*Session
	permits chan struct{}
	closed  bool
}

func NewPool(capacity int, userAgent string, log *zap.Logger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		factory: chromeFactory(userAgent),
		log:     log,
		permits: make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.permits <- struct{}{}
	}
	return p
}

// NewPoolWithFactory exists for tests and exotic deployments (remote
// devtools endpoints).
func NewPoolWithFactory(capacity int, f Factory, log *zap.Logger) *Pool {
	p := NewPool(capacity, "", log)
	p.factory = f
	return p
}

// Acquire blocks until a session is available or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case _, ok := <-p.permits:
		if !ok {
			return nil, ErrPoolClosed
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		sess := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	sess, err := p.factory(context.Background())
	if err != nil {
		// hand the permit back; capacity must not leak on create failure
		p.returnPermit()
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sess.close()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()
	return sess, nil
}

// Release returns a session to the pool. failed=true destroys it; the
// permit goes back either way.
func (p *Pool) Release(sess *Session, failed bool) {
	if sess == nil {
		p.returnPermit()
		return
	}

	p.mu.Lock()
	closed := p.closed
	if !closed && !failed {
		p.idle = append(p.idle, sess)
	}
	p.mu.Unlock()

	if closed || failed {
		if failed {
			p.log.Warn("destroying failed browser session")
		}
		sess.close()
	}
	if !closed {
		p.returnPermit()
	}
}

func (p *Pool) returnPermit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.permits <- struct{}{}:
	default:
	}
}

func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	close(p.permits)
	p.mu.Unlock()

	for _, sess := range idle {
		sess.close()
	}
}

func chromeFactory(userAgent string) Factory {
	return func(ctx context.Context) (*Session, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if userAgent != "" {
			opts = append(opts, chromedp.UserAgent(userAgent))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

		// start the browser now so Acquire surfaces launch failures
		startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
		defer cancel()
		if err := chromedp.Run(startCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, err
		}

		return &Session{
			Ctx:           browserCtx,
			cancelBrowser: cancelBrowser,
			cancelAlloc:   cancelAlloc,
		}, nil
	}
}

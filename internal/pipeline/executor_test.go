package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

type fakeAdapter struct {
	name        string
	needsDriver bool
	records     []domain.RawRecord
	err         error
	delay       time.Duration
	panics      bool
	gotSession  atomic.Bool
}

func (f *fakeAdapter) Name() string         { return f.name }
func (f *fakeAdapter) RequiresDriver() bool { return f.needsDriver }

func (f *fakeAdapter) Fetch(ctx context.Context, sess *driver.Session) ([]domain.RawRecord, error) {
	if sess != nil {
		f.gotSession.Store(true)
	}
	if f.panics {
		panic("selector exploded")
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.records, f.err
}

func testPool() *driver.Pool {
	return driver.NewPoolWithFactory(1, func(ctx context.Context) (*driver.Session, error) {
		return &driver.Session{Ctx: context.Background()}, nil
	}, zap.NewNop())
}

func TestExecutorOneOutcomePerAdapter(t *testing.T) {
	adapters := []types.Adapter{
		&fakeAdapter{name: "good", records: []domain.RawRecord{{"Title": "A"}, {"Title": "B"}}},
		&fakeAdapter{name: "broken", err: errors.New("http 503")},
		&fakeAdapter{name: "panicky", panics: true},
	}

	pool := testPool()
	defer pool.Close()
	ex := NewExecutor(pool, time.Second, zap.NewNop())

	var lines []string
	outcomes := ex.Run(context.Background(), adapters, func(l string) { lines = append(lines, l) })

	if len(outcomes) != len(adapters) {
		t.Fatalf("expected %d outcomes, got %d", len(adapters), len(outcomes))
	}

	byName := map[string]types.Outcome{}
	for _, o := range outcomes {
		byName[o.Source] = o
	}
	if o := byName["good"]; o.Failed() || len(o.Records) != 2 {
		t.Fatalf("good adapter outcome wrong: %+v", o)
	}
	if o := byName["broken"]; !o.Failed() {
		t.Fatalf("broken adapter must fail")
	}
	if o := byName["panicky"]; !o.Failed() || !strings.Contains(o.Err.Error(), "panicked") {
		t.Fatalf("panic must become a failure: %+v", o)
	}

	if len(lines) != 3 {
		t.Fatalf("expected 3 progress lines, got %d: %v", len(lines), lines)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "✅ good: 2 opportunities found") {
		t.Fatalf("missing success line: %v", lines)
	}
	if !strings.Contains(joined, "❌ broken:") {
		t.Fatalf("missing failure line: %v", lines)
	}
}

func TestExecutorTimeoutIsolated(t *testing.T) {
	adapters := []types.Adapter{
		&fakeAdapter{name: "slow", delay: 5 * time.Second},
		&fakeAdapter{name: "fast", records: []domain.RawRecord{{"Title": "ok"}}},
	}

	pool := testPool()
	defer pool.Close()
	ex := NewExecutor(pool, 50*time.Millisecond, zap.NewNop())

	outcomes := ex.Run(context.Background(), adapters, nil)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	byName := map[string]types.Outcome{}
	for _, o := range outcomes {
		byName[o.Source] = o
	}
	if o := byName["slow"]; !o.Failed() || !errors.Is(o.Err, context.DeadlineExceeded) {
		t.Fatalf("slow adapter should time out: %+v", o)
	}
	if o := byName["fast"]; o.Failed() {
		t.Fatalf("fast adapter must not be affected: %+v", o)
	}
}

func TestExecutorHandsSessionsToDriverAdapters(t *testing.T) {
	withDriver := &fakeAdapter{name: "browser", needsDriver: true, records: []domain.RawRecord{{"Title": "x"}}}
	without := &fakeAdapter{name: "plain", records: []domain.RawRecord{{"Title": "y"}}}

	pool := testPool()
	defer pool.Close()
	ex := NewExecutor(pool, time.Second, zap.NewNop())

	ex.Run(context.Background(), []types.Adapter{withDriver, without}, nil)

	if !withDriver.gotSession.Load() {
		t.Fatalf("driver adapter never saw a session")
	}
	if without.gotSession.Load() {
		t.Fatalf("plain adapter must not receive a session")
	}
}

func TestExecutorManyDriverAdaptersShareBoundedPool(t *testing.T) {
	var adapters []types.Adapter
	for i := 0; i < 6; i++ {
		adapters = append(adapters, &fakeAdapter{
			name:        fmt.Sprintf("browser-%d", i),
			needsDriver: true,
			delay:       5 * time.Millisecond,
			records:     []domain.RawRecord{{"Title": "z"}},
		})
	}

	pool := testPool() // capacity 1
	defer pool.Close()
	ex := NewExecutor(pool, 5*time.Second, zap.NewNop())

	outcomes := ex.Run(context.Background(), adapters, nil)
	for _, o := range outcomes {
		if o.Failed() {
			t.Fatalf("outcome failed under contention: %+v", o)
		}
	}
}

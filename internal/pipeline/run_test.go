package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

type stubReports struct {
	opps       []domain.Opportunity
	matches    []domain.MatchScore
	matchCalls int
	failing    bool
}

func (s *stubReports) WriteOpportunities(opps []domain.Opportunity) (string, error) {
	if s.failing {
		return "", errors.New("disk full")
	}
	s.opps = opps
	return "opportunities_test.csv", nil
}

func (s *stubReports) WriteMatches(matches []domain.MatchScore, _ map[string]domain.Opportunity) (string, error) {
	s.matchCalls++
	if s.failing {
		return "", errors.New("disk full")
	}
	s.matches = matches
	return "matchmaking_test.csv", nil
}

type stubScorer struct {
	matches     []domain.MatchScore
	err         error
	gotOpps     []domain.Opportunity
	gotPartners []domain.PartnerProject
	calls       int
}

func (s *stubScorer) Score(_ context.Context, opps []domain.Opportunity, partners []domain.PartnerProject) ([]domain.MatchScore, error) {
	s.calls++
	s.gotOpps = opps
	s.gotPartners = partners
	return s.matches, s.err
}

func runnerConfig() config.Config {
	var cfg config.Config
	cfg.Matchmaking.Enabled = true
	cfg.Matchmaking.MinScore = 0.7
	return cfg
}

func newTestRunner(t *testing.T, cfg config.Config, opps, partners []types.Adapter) (*Runner, *Registry, *stubReports, *stubScorer) {
	t.Helper()

	pool := testPool()
	t.Cleanup(pool.Close)

	reg := NewRegistry(nil, time.Hour)
	reports := &stubReports{}
	scorer := &stubScorer{}

	r := &Runner{
		Config:   func() config.Config { return cfg },
		Registry: reg,
		Executor: NewExecutor(pool, time.Second, zap.NewNop()),
		Reports:  reports,
		Scorer:   scorer,
		Log:      zap.NewNop(),
		BuildAdapters: func(config.Config) ([]types.Adapter, []types.Adapter, error) {
			return opps, partners, nil
		},
	}
	return r, reg, reports, scorer
}

func logText(t *testing.T, reg *Registry, id string) string {
	t.Helper()
	snap, err := reg.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var lines []string
	for _, e := range snap.Log {
		lines = append(lines, e.Text)
	}
	return strings.Join(lines, "\n")
}

func TestRunnerHappyPathWithCrossSourceDuplicates(t *testing.T) {
	adapters := []types.Adapter{
		&fakeAdapter{name: "SAM.gov", records: []domain.RawRecord{
			{"Title": "Counter-UAS Prototype", "Agency": "DOD", "URL": "https://sam.gov/opp/1"},
			{"Title": "Maritime Sensing BAA", "Agency": "NAVY"},
		}},
		&fakeAdapter{name: "Grants.gov", records: []domain.RawRecord{
			// same content, different casing: must collapse into one
			{"Title": "COUNTER-UAS  PROTOTYPE", "Agency": "dod", "URL": "HTTPS://SAM.GOV/opp/1"},
		}},
		// a browser source failing on its own must not escalate
		&fakeAdapter{name: "DARPA", needsDriver: true, err: errors.New("http 503")},
	}

	cfg := runnerConfig()
	r, reg, reports, scorer := newTestRunner(t, cfg, adapters, nil)
	scorer.matches = []domain.MatchScore{{OpportunityFingerprint: "fp", Score: 0.9}}

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", snap.Status, snap.Error)
	}
	if snap.Degraded {
		t.Fatalf("run should not be degraded")
	}
	if len(reports.opps) != 2 {
		t.Fatalf("expected 2 unique opportunities, got %d", len(reports.opps))
	}
	if snap.OppsReport == nil || *snap.OppsReport != "opportunities_test.csv" {
		t.Fatalf("opps report filename = %v", snap.OppsReport)
	}
	if snap.MatchReport == nil || *snap.MatchReport != "matchmaking_test.csv" {
		t.Fatalf("match report filename = %v", snap.MatchReport)
	}

	text := logText(t, reg, job.ID)
	if !strings.Contains(text, "✅ SAM.gov: 2 opportunities found") {
		t.Fatalf("missing source success line:\n%s", text)
	}
	if !strings.Contains(text, "❌ DARPA:") {
		t.Fatalf("missing source failure line:\n%s", text)
	}
	if !strings.Contains(text, "Collected 2 unique opportunities") {
		t.Fatalf("missing dedup summary:\n%s", text)
	}
}

func TestRunnerScoringFailureDegradesInsteadOfFailing(t *testing.T) {
	adapters := []types.Adapter{
		&fakeAdapter{name: "SAM.gov", records: []domain.RawRecord{{"Title": "A", "Agency": "DOD"}}},
	}

	r, reg, reports, scorer := newTestRunner(t, runnerConfig(), adapters, nil)
	scorer.err = errors.New("gemini 500")

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("degraded run must still complete, got %s", snap.Status)
	}
	if !snap.Degraded {
		t.Fatalf("run must be flagged degraded")
	}
	if reports.matchCalls != 0 {
		t.Fatalf("no match artifact may be written on scoring failure")
	}
	if snap.MatchReport != nil {
		t.Fatalf("match report filename must stay null, got %q", *snap.MatchReport)
	}
	if snap.OppsReport == nil {
		t.Fatalf("opportunity report must still exist")
	}
	if !strings.Contains(logText(t, reg, job.ID), "❌ AI matchmaking failed") {
		t.Fatalf("log must explain the degradation")
	}
}

func TestRunnerNoSourcesFails(t *testing.T) {
	r, reg, _, _ := newTestRunner(t, runnerConfig(), nil, nil)

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
}

func TestRunnerPartnerPoolReachesScorer(t *testing.T) {
	oppAdapters := []types.Adapter{
		&fakeAdapter{name: "SAM.gov", records: []domain.RawRecord{{"Title": "A", "Agency": "DOD"}}},
	}
	partnerAdapters := []types.Adapter{
		&fakeAdapter{name: "SBIR Partnerships", records: []domain.RawRecord{
			{"Company": "Acme Robotics", "Project Title": "Swarm Kit", "Agency": "ARMY"},
			{"Company": "", "Project Title": "no company, dropped"},
		}},
	}

	r, reg, _, scorer := newTestRunner(t, runnerConfig(), oppAdapters, partnerAdapters)

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	if scorer.calls != 1 {
		t.Fatalf("scorer calls = %d", scorer.calls)
	}
	if len(scorer.gotPartners) != 1 || scorer.gotPartners[0].CompanyName != "Acme Robotics" {
		t.Fatalf("partner pool wrong: %+v", scorer.gotPartners)
	}
}

func TestRunnerTestingModeCapsScoring(t *testing.T) {
	records := make([]domain.RawRecord, 30)
	for i := range records {
		records[i] = domain.RawRecord{"Title": "Opp " + string(rune('A'+i)), "Agency": "DOD"}
	}
	adapters := []types.Adapter{&fakeAdapter{name: "SAM.gov", records: records}}

	cfg := runnerConfig()
	cfg.Pipeline.TestingMode = true
	cfg.Pipeline.TestingScoreCap = 5

	r, reg, reports, scorer := newTestRunner(t, cfg, adapters, nil)

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	if len(scorer.gotOpps) != 5 {
		t.Fatalf("expected 5 scored in testing mode, got %d", len(scorer.gotOpps))
	}
	if len(reports.opps) != 30 {
		t.Fatalf("opportunity report must still carry everything, got %d", len(reports.opps))
	}
}

func TestRunnerManySourcesWithTimeoutsAndDuplicates(t *testing.T) {
	// 17 sources deliver; 2 hang past the per-source deadline. 340 raw
	// records carry 30 cross-source duplicates, so 310 survive dedup.
	recordsFor := func(src, n int) []domain.RawRecord {
		recs := make([]domain.RawRecord, n)
		for j := range recs {
			recs[j] = domain.RawRecord{
				"Title":  fmt.Sprintf("Opportunity %02d-%02d", src, j),
				"Agency": "DOD",
			}
		}
		return recs
	}

	var adapters []types.Adapter
	for i := 0; i < 15; i++ {
		adapters = append(adapters, &fakeAdapter{
			name:    fmt.Sprintf("Source %02d", i),
			records: recordsFor(i, 20),
		})
	}
	adapters = append(adapters,
		&fakeAdapter{name: "Source 15", records: append(recordsFor(15, 10), recordsFor(0, 10)...)},
		&fakeAdapter{name: "Source 16", records: recordsFor(1, 20)},
		&fakeAdapter{name: "DARPA", delay: time.Second},
		&fakeAdapter{name: "DIU", delay: time.Second},
	)

	pool := testPool()
	t.Cleanup(pool.Close)
	reg := NewRegistry(nil, time.Hour)
	reports := &stubReports{}
	r := &Runner{
		Config:   func() config.Config { return runnerConfig() },
		Registry: reg,
		Executor: NewExecutor(pool, 100*time.Millisecond, zap.NewNop()),
		Reports:  reports,
		Scorer:   &stubScorer{},
		Log:      zap.NewNop(),
		BuildAdapters: func(config.Config) ([]types.Adapter, []types.Adapter, error) {
			return adapters, nil, nil
		},
	}

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("two hung sources must not sink the run: %s (%s)", snap.Status, snap.Error)
	}
	if len(reports.opps) != 310 {
		t.Fatalf("expected 310 unique opportunities, got %d", len(reports.opps))
	}
	if snap.OppsReport == nil {
		t.Fatalf("opportunity report missing")
	}

	var ok, failed int
	for _, e := range snap.Log {
		switch {
		case strings.HasPrefix(e.Text, "✅") && strings.Contains(e.Text, "opportunities found"):
			ok++
		case strings.HasPrefix(e.Text, "❌") && !strings.Contains(e.Text, "matchmaking"):
			failed++
		}
	}
	if ok != 17 || failed != 2 {
		t.Fatalf("per-source log lines: %d ok, %d failed", ok, failed)
	}
	if !strings.Contains(logText(t, reg, job.ID), "Collected 310 unique opportunities") {
		t.Fatalf("missing dedup summary")
	}
}

func TestRunnerFailsWhenNoBrowserSessionAvailable(t *testing.T) {
	pool := driver.NewPoolWithFactory(1, func(context.Context) (*driver.Session, error) {
		return nil, errors.New("chrome binary not found")
	}, zap.NewNop())
	t.Cleanup(pool.Close)

	adapters := []types.Adapter{
		&fakeAdapter{name: "SAM.gov", records: []domain.RawRecord{{"Title": "A", "Agency": "DOD"}}},
		&fakeAdapter{name: "DARPA", needsDriver: true},
		&fakeAdapter{name: "DIU", needsDriver: true},
	}

	reg := NewRegistry(nil, time.Hour)
	r := &Runner{
		Config:   func() config.Config { return runnerConfig() },
		Registry: reg,
		Executor: NewExecutor(pool, time.Second, zap.NewNop()),
		Reports:  &stubReports{},
		Scorer:   &stubScorer{},
		Log:      zap.NewNop(),
		BuildAdapters: func(config.Config) ([]types.Adapter, []types.Adapter, error) {
			return adapters, nil, nil
		},
	}

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed when no session ever launches, got %s", snap.Status)
	}
	if !strings.Contains(snap.Error, "browser session") {
		t.Fatalf("error should name the outage: %q", snap.Error)
	}
}

func TestRunnerReportFailureFailsJob(t *testing.T) {
	adapters := []types.Adapter{
		&fakeAdapter{name: "SAM.gov", records: []domain.RawRecord{{"Title": "A", "Agency": "DOD"}}},
	}
	r, reg, reports, _ := newTestRunner(t, runnerConfig(), adapters, nil)
	reports.failing = true

	job := reg.Create()
	r.Run(context.Background(), job.ID)

	snap, _ := reg.Snapshot(job.ID)
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed on report error, got %s", snap.Status)
	}
	if !strings.Contains(snap.Error, "write reports") {
		t.Fatalf("error should name the stage: %q", snap.Error)
	}
}

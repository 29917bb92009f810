package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/normalize"
	"oppscout-engine/internal/report"
	"oppscout-engine/internal/scrape"
	"oppscout-engine/internal/scrape/types"
	"oppscout-engine/internal/store"
)

// MatchScorer is what the runner needs from the matchmaking layer.
// Swapped for a stub in tests; nil when matchmaking is disabled.
type MatchScorer interface {
	Score(ctx context.Context, opps []domain.Opportunity, partners []domain.PartnerProject) ([]domain.MatchScore, error)
}

// partnerAdapterID marks sources that feed the partner pool instead of
// the opportunity list.
const partnerAdapterID = "sbirawards"

// Runner executes one full discovery run against a job in the registry.
type Runner struct {
	Config   func() config.Config
	Env      types.Env
	Registry *Registry
	Executor *Executor
	DB       *store.DB
	Reports  report.Writer
	Scorer   MatchScorer
	Log      *zap.Logger

	// BuildAdapters overrides source construction; nil means build from
	// the registry of configured adapters.
	BuildAdapters func(cfg config.Config) (opps, partners []types.Adapter, err error)
}

// Run drives a job from pending to a terminal state. It never returns an
// error to the caller; failures land on the job itself.
func (r *Runner) Run(ctx context.Context, jobID string) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("job_id", jobID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline panicked", zap.Any("panic", rec))
			r.Registry.Fail(jobID, fmt.Errorf("internal error: %v", rec))
		}
	}()

	cfg := r.Config()
	r.Registry.MarkRunning(jobID)

	build := r.BuildAdapters
	if build == nil {
		build = r.buildAdapters
	}
	oppAdapters, partnerAdapters, err := build(cfg)
	if err != nil {
		r.Registry.Fail(jobID, err)
		return
	}
	if len(oppAdapters) == 0 {
		r.Registry.Fail(jobID, fmt.Errorf("no enabled opportunity sources configured"))
		return
	}

	r.Registry.AppendLog(jobID, fmt.Sprintf("Starting opportunity discovery across %d sources...", len(oppAdapters)))

	// Partner pool first; the matchmaker wants it before scoring starts.
	var partners []domain.PartnerProject
	if len(partnerAdapters) > 0 && cfg.Matchmaking.Enabled {
		partners = r.fetchPartners(ctx, jobID, partnerAdapters)
	}

	outcomes := r.Executor.Run(ctx, oppAdapters, func(line string) {
		r.Registry.AppendLog(jobID, line)
	})

	if err := driverOutage(oppAdapters, outcomes); err != nil {
		r.Registry.Fail(jobID, err)
		return
	}

	opps := r.collect(outcomes)
	r.Registry.AppendLog(jobID, fmt.Sprintf("Collected %d unique opportunities after de-duplication.", len(opps)))

	if err := r.flagNew(ctx, opps); err != nil {
		// history is best-effort; a broken DB downgrades Is_New, not the run
		log.Warn("seen-history lookup failed", zap.Error(err))
		r.Registry.AppendLog(jobID, "⚠️ Could not check opportunity history; all entries marked as new.")
		for i := range opps {
			opps[i].IsNew = true
		}
	}

	matches, degraded := r.score(ctx, jobID, cfg, opps, partners)

	oppsFile, matchFile, err := r.writeReports(ctx, jobID, opps, matches, degraded)
	if err != nil {
		r.Registry.Fail(jobID, fmt.Errorf("write reports: %w", err))
		return
	}

	r.Registry.AppendLog(jobID, "Pipeline complete. Reports are ready for download.")
	r.Registry.Complete(jobID, oppsFile, matchFile, degraded)
}

// driverOutage detects the run-fatal case where browser-backed sources
// exist but not a single session could ever be created. One source
// crashing its browser is that source's failure; the whole fleet never
// launching is the run's.
func driverOutage(adapters []types.Adapter, outcomes []types.Outcome) error {
	need := make(map[string]bool)
	for _, ad := range adapters {
		if ad.RequiresDriver() {
			need[ad.Name()] = true
		}
	}
	if len(need) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if !need[o.Source] {
			continue
		}
		if o.Err == nil || !errors.Is(o.Err, driver.ErrSessionUnavailable) {
			return nil
		}
	}
	return fmt.Errorf("no browser session could be created for %d sources: %w", len(need), driver.ErrSessionUnavailable)
}

// buildAdapters splits enabled sources into opportunity adapters and
// partner-pool adapters.
func (r *Runner) buildAdapters(cfg config.Config) (opps, partners []types.Adapter, err error) {
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		ad, err := scrape.Build(src, r.Env)
		if err != nil {
			return nil, nil, err
		}
		if src.Adapter == partnerAdapterID {
			partners = append(partners, ad)
		} else {
			opps = append(opps, ad)
		}
	}
	return opps, partners, nil
}

func (r *Runner) fetchPartners(ctx context.Context, jobID string, adapters []types.Adapter) []domain.PartnerProject {
	r.Registry.AppendLog(jobID, "Loading partner project pool...")
	outcomes := r.Executor.Run(ctx, adapters, func(line string) {
		r.Registry.AppendLog(jobID, line)
	})

	var partners []domain.PartnerProject
	for _, o := range outcomes {
		if o.Failed() {
			continue
		}
		for _, rec := range o.Records {
			company := strings.TrimSpace(rec["Company"])
			if company == "" {
				continue
			}
			partners = append(partners, domain.PartnerProject{
				CompanyName:  company,
				ProjectTitle: strings.TrimSpace(rec["Project Title"]),
				Agency:       strings.TrimSpace(rec["Agency"]),
				URL:          strings.TrimSpace(rec["URL"]),
			})
		}
	}
	return partners
}

// collect normalizes every successful outcome and de-duplicates across
// sources, first seen wins.
func (r *Runner) collect(outcomes []types.Outcome) []domain.Opportunity {
	var all []domain.Opportunity
	for _, o := range outcomes {
		if o.Failed() {
			continue
		}
		for _, rec := range o.Records {
			opp := normalize.Record(rec, o.Source)
			if opp.Title == "" {
				continue
			}
			all = append(all, opp)
		}
	}
	return normalize.Dedup(all)
}

// flagNew marks opportunities absent from seen history and records this
// run's fingerprints.
func (r *Runner) flagNew(ctx context.Context, opps []domain.Opportunity) error {
	if r.DB == nil || len(opps) == 0 {
		return nil
	}
	fps := make([]string, 0, len(opps))
	for _, o := range opps {
		fps = append(fps, o.Fingerprint)
	}
	known, err := store.KnownFingerprints(ctx, r.DB.Pool, fps)
	if err != nil {
		return err
	}

	recs := make([]store.SeenRecord, 0, len(opps))
	for i := range opps {
		opps[i].IsNew = !known[opps[i].Fingerprint]
		recs = append(recs, store.SeenRecord{
			Fingerprint: opps[i].Fingerprint,
			URL:         opps[i].URL,
			Title:       opps[i].Title,
			SourceName:  opps[i].SourceName,
		})
	}
	return store.RecordSeen(ctx, r.DB.Pool, recs)
}

// score runs matchmaking. Any scoring failure degrades the run rather
// than failing it: the opportunity report is still worth having.
func (r *Runner) score(ctx context.Context, jobID string, cfg config.Config, opps []domain.Opportunity, partners []domain.PartnerProject) ([]domain.MatchScore, bool) {
	if !cfg.Matchmaking.Enabled || r.Scorer == nil || len(opps) == 0 {
		return nil, false
	}

	toScore := opps
	if cfg.Pipeline.TestingMode && cfg.Pipeline.TestingScoreCap > 0 && len(toScore) > cfg.Pipeline.TestingScoreCap {
		toScore = toScore[:cfg.Pipeline.TestingScoreCap]
		r.Registry.AppendLog(jobID, fmt.Sprintf("Testing mode: scoring only the first %d opportunities.", len(toScore)))
	}

	r.Registry.AppendLog(jobID, fmt.Sprintf("Scoring %d opportunities with AI matchmaking...", len(toScore)))
	matches, err := r.Scorer.Score(ctx, toScore, partners)
	if err != nil {
		r.Registry.AppendLog(jobID, fmt.Sprintf("❌ AI matchmaking failed: %v. Continuing without match scores.", err))
		return nil, true
	}
	r.Registry.AppendLog(jobID, fmt.Sprintf("✅ Matchmaking complete: %d opportunities cleared the relevance threshold.", len(matches)))
	return matches, false
}

// writeReports produces the opportunity artifact always, the match
// artifact only when scoring actually ran; a degraded run reports a null
// match filename instead of an empty file.
func (r *Runner) writeReports(ctx context.Context, jobID string, opps []domain.Opportunity, matches []domain.MatchScore, degraded bool) (oppsFile, matchFile *string, err error) {
	oppName, err := r.Reports.WriteOpportunities(opps)
	if err != nil {
		return nil, nil, err
	}
	if r.DB != nil {
		if err := store.RegisterReport(ctx, r.DB.Pool, oppName, "opportunities", jobID); err != nil {
			return nil, nil, err
		}
	}
	oppsFile = &oppName

	if degraded {
		return oppsFile, nil, nil
	}

	byFP := make(map[string]domain.Opportunity, len(opps))
	for _, o := range opps {
		byFP[o.Fingerprint] = o
	}
	matchName, err := r.Reports.WriteMatches(matches, byFP)
	if err != nil {
		return nil, nil, err
	}
	if r.DB != nil {
		if err := store.RegisterReport(ctx, r.DB.Pool, matchName, "matchmaking", jobID); err != nil {
			return nil, nil, err
		}
	}
	return oppsFile, &matchName, nil
}

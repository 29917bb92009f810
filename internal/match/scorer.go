package match

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"oppscout-engine/internal/domain"
)

//go:embed prompt.md
var promptText string

var promptTmpl = template.Must(template.New("match").Parse(promptText))

// retryBackoff is how long the scorer waits before its single retry of a
// failed generator call.
var retryBackoff = 2 * time.Second

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

type Options struct {
	MinScore  float64
	BatchSize int
	Timeout   time.Duration
}

// Scorer sends batches of normalized opportunities to the model and keeps
// the ones that clear the relevance threshold.
type Scorer struct {
	gen     contentGenerator
	profile domain.CapabilityProfile
	opts    Options
	log     *zap.Logger
}

func NewScorer(gen contentGenerator, profile domain.CapabilityProfile, opts Options, log *zap.Logger) *Scorer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{gen: gen, profile: profile, opts: opts, log: log}
}

// Score runs every opportunity through the model in batches and returns
// the matches at or above MinScore, in input order. Any batch failure
// fails the whole call; the caller decides whether that degrades or
// aborts the run.
func (s *Scorer) Score(ctx context.Context, opps []domain.Opportunity, partners []domain.PartnerProject) ([]domain.MatchScore, error) {
	if len(opps) == 0 {
		return nil, nil
	}

	partnerPool, err := renderPartnerPool(partners)
	if err != nil {
		return nil, fmt.Errorf("render partner pool: %w", err)
	}

	byFP := make(map[string]domain.MatchScore, len(opps))
	for start := 0; start < len(opps); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(opps) {
			end = len(opps)
		}
		batch := opps[start:end]

		scores, err := s.scoreBatch(ctx, batch, partnerPool)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end-1, err)
		}
		for fp, sc := range scores {
			byFP[fp] = sc
		}
	}

	var matches []domain.MatchScore
	for _, opp := range opps {
		sc, ok := byFP[opp.Fingerprint]
		if !ok {
			s.log.Warn("model returned no score for opportunity",
				zap.String("fingerprint", opp.Fingerprint),
				zap.String("title", opp.Title))
			continue
		}
		if sc.Score >= s.opts.MinScore {
			matches = append(matches, sc)
		}
	}
	return matches, nil
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []domain.Opportunity, partnerPool string) (map[string]domain.MatchScore, error) {
	prompt, err := s.buildPrompt(batch, partnerPool)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	raw, err := s.gen.GenerateContent(callCtx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if !retryable(err) {
			return nil, err
		}
		s.log.Warn("generator call failed, retrying once",
			zap.String("model", s.gen.Model()), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
		retryCtx, cancelRetry := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancelRetry()
		raw, err = s.gen.GenerateContent(retryCtx, prompt)
		if err != nil {
			return nil, fmt.Errorf("generator failed after retry: %w", err)
		}
	}

	return parseScores(raw, batch)
}

// retryable separates transient generator failures (throttling, server
// errors, network) from client-side rejections that one more identical
// call cannot fix.
func retryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

func (s *Scorer) buildPrompt(batch []domain.Opportunity, partnerPool string) (string, error) {
	oppJSON, err := json.MarshalIndent(promptOpportunities(batch), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode opportunities: %w", err)
	}

	var b strings.Builder
	err = promptTmpl.Execute(&b, map[string]string{
		"ProfileSummary":      s.profile.Summary,
		"ScopeDescription":    s.profile.ScopeDescription,
		"PeriodOfPerformance": s.profile.PeriodOfPerformance,
		"PartnerPool":         partnerPool,
		"Opportunities":       string(oppJSON),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// promptOpportunities trims each opportunity to the fields the model needs.
func promptOpportunities(batch []domain.Opportunity) []map[string]string {
	out := make([]map[string]string, 0, len(batch))
	for _, opp := range batch {
		out = append(out, map[string]string{
			"fingerprint": opp.Fingerprint,
			"title":       opp.Title,
			"agency":      opp.Agency,
			"close_date":  opp.CloseDate,
			"description": truncateRunes(opp.Description, 1200),
		})
	}
	return out
}

func renderPartnerPool(partners []domain.PartnerProject) (string, error) {
	if len(partners) == 0 {
		return "(no partner data available this run)", nil
	}
	b, err := json.MarshalIndent(partners, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseScores is deliberately lenient about the shape of the model's
// answer but strict about fingerprints: scores for fingerprints not in
// the batch are dropped.
func parseScores(raw string, batch []domain.Opportunity) (map[string]domain.MatchScore, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	results, ok := obj["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("model output missing results array")
	}

	known := make(map[string]bool, len(batch))
	for _, opp := range batch {
		known[opp.Fingerprint] = true
	}

	out := make(map[string]domain.MatchScore, len(results))
	for _, item := range results {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fp := asString(entry["fingerprint"])
		if !known[fp] {
			continue
		}
		score, ok := asFloat(entry["relevance_score"])
		if !ok {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out[fp] = domain.MatchScore{
			OpportunityFingerprint: fp,
			Score:                  score,
			Rationale:              asString(entry["rationale"]),
			SuggestedPartners:      parsePartners(entry["suggested_partners"]),
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model output had no usable results")
	}
	return out, nil
}

func parsePartners(v any) []domain.PartnerSuggest {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []domain.PartnerSuggest
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		company := strings.TrimSpace(asString(entry["partner_company"]))
		if company == "" {
			continue
		}
		out = append(out, domain.PartnerSuggest{
			Company:   company,
			Reasoning: strings.TrimSpace(asString(entry["reasoning"])),
		})
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the number however the model chose to type it.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

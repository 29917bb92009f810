package grantsgov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

const (
	apiURL  = "https://api.grants.gov/v1/api/search2"
	viewURL = "https://www.grants.gov/search-results-detail/"
)

type Config struct {
	Keyword string `mapstructure:"keyword"`
	Rows    int    `mapstructure:"rows"`
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
	hc   *http.Client
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{Rows: 200}
	if err := types.DecodeArgs(args, &cfg); err != nil {
		return nil, err
	}
	if cfg.Rows < 1 || cfg.Rows > 1000 {
		return nil, fmt.Errorf("grantsgov: rows %d out of range", cfg.Rows)
	}
	return &Scraper{
		name: name,
		cfg:  cfg,
		env:  env,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *Scraper) Name() string         { return s.name }
func (s *Scraper) RequiresDriver() bool { return false }

type searchResponse struct {
	Data struct {
		OppHits []struct {
			ID        string `json:"id"`
			Number    string `json:"number"`
			Title     string `json:"title"`
			Agency    string `json:"agencyName"`
			OpenDate  string `json:"openDate"`
			CloseDate string `json:"closeDate"`
		} `json:"oppHits"`
	} `json:"data"`
}

func (s *Scraper) Fetch(ctx context.Context, _ *driver.Session) ([]domain.RawRecord, error) {
	if err := s.env.Limiter.WaitURL(ctx, apiURL); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]any{
		"keyword":     s.cfg.Keyword,
		"rows":        s.cfg.Rows,
		"oppStatuses": "posted",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	req.Header.Set("User-Agent", s.env.UserAgent)
	req.Header.Set("Content-Type", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grantsgov request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("grantsgov status %d", res.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("grantsgov decode: %w", err)
	}

	recs := make([]domain.RawRecord, 0, len(sr.Data.OppHits))
	for _, h := range sr.Data.OppHits {
		recs = append(recs, domain.RawRecord{
			"Title":       h.Title,
			"Agency":      h.Agency,
			"URL":         viewURL + h.ID,
			"Posted Date": h.OpenDate,
			"Close Date":  h.CloseDate,
			"Description": "Opportunity number " + h.Number,
		})
	}
	return recs, nil
}

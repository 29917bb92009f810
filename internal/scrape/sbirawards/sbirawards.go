// Package sbirawards pulls recent Phase II awards from the SBIR.gov API.
// These are not opportunities; they feed the matchmaker's partner pool.
package sbirawards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

const apiURL = "https://api.www.sbir.gov/public/api/awards"

type Config struct {
	Agency    string `mapstructure:"agency"`
	Phase     string `mapstructure:"phase"`
	YearsBack int    `mapstructure:"years_back"`
	PageSize  int    `mapstructure:"page_size"`
	MaxAwards int    `mapstructure:"max_awards"`
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
	hc   *http.Client
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{
		Agency:    "DOD",
		Phase:     "Phase II",
		YearsBack: 1,
		PageSize:  100,
		MaxAwards: 400,
	}
	if err := types.DecodeArgs(args, &cfg); err != nil {
		return nil, err
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

type award struct {
	Firm       string `json:"firm"`
	AwardTitle string `json:"award_title"`
	Agency     string `json:"agency"`
	AwardLink  string `json:"award_link"`
}

func (s *Scraper) Fetch(ctx context.Context, _ *driver.Session) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	thisYear := time.Now().Year()

	for year := thisYear - s.cfg.YearsBack; year <= thisYear; year++ {
		start := 0
		for len(out) < s.cfg.MaxAwards {
			batch, err := s.fetchPage(ctx, year, start)
			if err != nil {
				return nil, err
			}
			if len(batch) == 0 {
				break
			}
			for _, a := range batch {
				out = append(out, domain.RawRecord{
					"Company":       a.Firm,
					"Project Title": a.AwardTitle,
					"Agency":        a.Agency,
					"URL":           a.AwardLink,
				})
			}
			start += s.cfg.PageSize
		}
	}
	if len(out) > s.cfg.MaxAwards {
		out = out[:s.cfg.MaxAwards]
	}
	return out, nil
}

func (s *Scraper) fetchPage(ctx context.Context, year, start int) ([]award, error) {
	if err := s.env.Limiter.WaitURL(ctx, apiURL); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("agency", s.cfg.Agency)
	q.Set("phase", s.cfg.Phase)
	q.Set("program", "SBIR")
	q.Set("year", strconv.Itoa(year))
	q.Set("start", strconv.Itoa(start))
	q.Set("rows", strconv.Itoa(s.cfg.PageSize))

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	req.Header.Set("User-Agent", s.env.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sbirawards request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("sbirawards status %d", res.StatusCode)
	}

	var batch []award
	if err := json.NewDecoder(res.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("sbirawards decode: %w", err)
	}
	return batch, nil
}

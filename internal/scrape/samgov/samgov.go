package samgov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
)

const apiURL = "https://api.sam.gov/prod/opportunities/v1/search"

type Config struct {
	DaysBack   int    `mapstructure:"days_back"`
	PageSize   int    `mapstructure:"page_size"`
	MaxRecords int    `mapstructure:"max_records"`
	NoticeType string `mapstructure:"notice_type"`
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
	hc   *http.Client
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{
		DaysBack:   14,
		PageSize:   100,
		MaxRecords: 500,
		NoticeType: "Combined Synopsis/Solicitation,Solicitation,Presolicitation,Special Notice",
	}
	if err := types.DecodeArgs(args, &cfg); err != nil {
		return nil, err
	}
	if cfg.PageSize < 1 || cfg.PageSize > 1000 {
		return nil, fmt.Errorf("samgov: page_size %d out of range", cfg.PageSize)
	}
	return &Scraper{
		name: name,
		cfg:  cfg,
		env:  env,
		hc:   &http.Client{Timeout: 45 * time.Second},
	}, nil
}

func (s *Scraper) Name() string         { return s.name }
func (s *Scraper) RequiresDriver() bool { return false }

type searchResponse struct {
	TotalRecords      int `json:"totalRecords"`
	OpportunitiesData []struct {
		Title              string `json:"title"`
		FullParentPathName string `json:"fullParentPathName"`
		UILink             string `json:"uiLink"`
		PostedDate         string `json:"postedDate"`
		ResponseDeadLine   string `json:"responseDeadLine"`
		Description        string `json:"description"`
	} `json:"opportunitiesData"`
}

func (s *Scraper) Fetch(ctx context.Context, _ *driver.Session) ([]domain.RawRecord, error) {
	apiKey, err := s.env.APIKey("samgov_api_key")
	if err != nil {
		return nil, fmt.Errorf("samgov: %w", err)
	}

	postedFrom := time.Now().AddDate(0, 0, -s.cfg.DaysBack).Format("01/02/2006")

	var out []domain.RawRecord
	offset := 0
	for len(out) < s.cfg.MaxRecords {
		page, total, err := s.fetchPage(ctx, apiKey, postedFrom, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		offset += s.cfg.PageSize
		if len(page) == 0 || offset >= total {
			break
		}
	}
	if len(out) > s.cfg.MaxRecords {
		out = out[:s.cfg.MaxRecords]
	}
	return out, nil
}

func (s *Scraper) fetchPage(ctx context.Context, apiKey, postedFrom string, offset int) ([]domain.RawRecord, int, error) {
	if err := s.env.Limiter.WaitURL(ctx, apiURL); err != nil {
		return nil, 0, err
	}

	q := url.Values{}
	q.Set("api_key", apiKey)
	q.Set("noticeType", s.cfg.NoticeType)
	q.Set("sort", "-modifiedDate")
	q.Set("limit", strconv.Itoa(s.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("postedFrom", postedFrom)
	q.Set("postedTo", time.Now().Format("01/02/2006"))

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	req.Header.Set("User-Agent", s.env.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("samgov request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return nil, 0, fmt.Errorf("samgov status %d: %s", res.StatusCode, string(body))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, 0, fmt.Errorf("samgov decode: %w", err)
	}

	recs := make([]domain.RawRecord, 0, len(sr.OpportunitiesData))
	for _, o := range sr.OpportunitiesData {
		recs = append(recs, domain.RawRecord{
			"Title":       o.Title,
			"Agency":      o.FullParentPathName,
			"URL":         o.UILink,
			"Posted Date": o.PostedDate,
			"Close Date":  o.ResponseDeadLine,
			"Description": o.Description,
		})
	}
	return recs, sr.TotalRecords, nil
}

package dodsbir

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

const (
	searchURL = "https://www.dodsbirsttr.mil/topics/api/public/topics/search"
	topicURL  = "https://www.dodsbirsttr.mil/topics-app/#/topic/"
)

type Config struct {
	Statuses []string `mapstructure:"statuses"` // Open, Pre-Release
	PageSize int      `mapstructure:"page_size"`
	MaxPages int      `mapstructure:"max_pages"`
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
	hc   *http.Client
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{
		Statuses: []string{"Open"},
		PageSize: 50,
		MaxPages: 10,
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

type topicPage struct {
	Total int `json:"total"`
	Data  []struct {
		TopicID        string `json:"topicId"`
		TopicCode      string `json:"topicCode"`
		TopicTitle     string `json:"topicTitle"`
		Component      string `json:"component"`
		Program        string `json:"program"`
		TopicStatus    string `json:"topicStatus"`
		ReleaseDate    int64  `json:"topicReleaseDate"` // epoch ms
		CloseDate      int64  `json:"topicEndDate"`     // epoch ms
		ShortObjective string `json:"objective"`
	} `json:"data"`
}

func (s *Scraper) Fetch(ctx context.Context, _ *driver.Session) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	for page := 0; page < s.cfg.MaxPages; page++ {
		recs, total, err := s.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if len(recs) == 0 || (page+1)*s.cfg.PageSize >= total {
			break
		}
	}
	return out, nil
}

func (s *Scraper) fetchPage(ctx context.Context, page int) ([]domain.RawRecord, int, error) {
	if err := s.env.Limiter.WaitURL(ctx, searchURL); err != nil {
		return nil, 0, err
	}

	criteria, _ := json.Marshal(map[string]any{
		"topicStatuses": s.cfg.Statuses,
		"page":          page,
		"size":          s.cfg.PageSize,
	})
	q := url.Values{}
	q.Set("searchParam", string(criteria))
	q.Set("size", strconv.Itoa(s.cfg.PageSize))
	q.Set("page", strconv.Itoa(page))

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, searchURL+"?"+q.Encode(), nil)
	req.Header.Set("User-Agent", s.env.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("dodsbir request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, 0, fmt.Errorf("dodsbir status %d", res.StatusCode)
	}

	var tp topicPage
	if err := json.NewDecoder(res.Body).Decode(&tp); err != nil {
		return nil, 0, fmt.Errorf("dodsbir decode: %w", err)
	}

	recs := make([]domain.RawRecord, 0, len(tp.Data))
	for _, t := range tp.Data {
		recs = append(recs, domain.RawRecord{
			"Topic Title": t.TopicTitle,
			"Topic Code":  t.TopicCode,
			"Component":   t.Component,
			"URL":         topicURL + t.TopicID,
			"Posted Date": epochDate(t.ReleaseDate),
			"Close Date":  epochDate(t.CloseDate),
			"Objective":   t.ShortObjective,
		})
	}
	return recs, tp.Total, nil
}

func epochDate(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}

// Package htmllist is the selector-driven adapter behind most plain-HTTP
// sources. A source declares its listing URL and CSS selectors in config
// args; nothing here knows any site by name.
package htmllist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/types"
	"oppscout-engine/internal/scrape/util"
)

type Config struct {
	URL    string `mapstructure:"url"`
	Agency string `mapstructure:"agency"`

	ItemSelector  string `mapstructure:"item_selector"`  // one node per opportunity
	TitleSelector string `mapstructure:"title_selector"` // within item; defaults to the item's first link
	LinkSelector  string `mapstructure:"link_selector"`  // within item; href source
	DateSelector  string `mapstructure:"date_selector"`  // within item; close-date text
	DescSelector  string `mapstructure:"desc_selector"`  // within item

	// When set, each item's link is fetched and this selector pulled from
	// the detail page as the description.
	DetailDescSelector string `mapstructure:"detail_desc_selector"`

	MaxItems   int `mapstructure:"max_items"`
	MaxDetails int `mapstructure:"max_details"`
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
	hc   *http.Client
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{MaxItems: 50, MaxDetails: 25}
	if err := types.DecodeArgs(args, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("htmllist %q: url is required", name)
	}
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("htmllist %q: item_selector is required", name)
	}
	return &Scraper{
		name: name,
		cfg:  cfg,
		env:  env,
		hc:   &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (s *Scraper) Name() string         { return s.name }
func (s *Scraper) RequiresDriver() bool { return false }

func (s *Scraper) Fetch(ctx context.Context, _ *driver.Session) ([]domain.RawRecord, error) {
	doc, err := s.fetchDoc(ctx, s.cfg.URL)
	if err != nil {
		return nil, err
	}

	recs := Extract(doc, s.cfg, s.cfg.URL)

	// Bounded detail-page hydration; a broken detail page costs one
	// description, not the source.
	if s.cfg.DetailDescSelector != "" {
		hydrated := 0
		for i := range recs {
			if hydrated >= s.cfg.MaxDetails {
				break
			}
			link := recs[i]["URL"]
			if link == "" {
				continue
			}
			detail, derr := s.fetchDoc(ctx, link)
			if derr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if d := util.CleanText(detail.Find(s.cfg.DetailDescSelector).First().Text()); d != "" {
				recs[i]["Description"] = truncate(d, 3500)
			}
			hydrated++
		}
	}

	return recs, nil
}

func (s *Scraper) fetchDoc(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.env.Limiter.WaitURL(ctx, pageURL); err != nil {
		return nil, err
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	req.Header.Set("User-Agent", s.env.UserAgent)

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s get: %w", s.name, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("%s status %d", s.name, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s parse html: %w", s.name, err)
	}
	return doc, nil
}

// Extract walks the listing DOM and produces one raw record per item.
// Shared with the browser adapter, which renders first and parses the
// same way.
func Extract(doc *goquery.Document, cfg Config, baseURL string) []domain.RawRecord {
	var recs []domain.RawRecord

	doc.Find(cfg.ItemSelector).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if cfg.MaxItems > 0 && len(recs) >= cfg.MaxItems {
			return false
		}

		link := item
		if cfg.LinkSelector != "" {
			link = item.Find(cfg.LinkSelector).First()
		} else if !item.Is("a") {
			link = item.Find("a[href]").First()
		}
		href, _ := link.Attr("href")
		href = resolveURL(baseURL, strings.TrimSpace(href))

		title := ""
		if cfg.TitleSelector != "" {
			title = util.CleanText(item.Find(cfg.TitleSelector).First().Text())
		}
		if title == "" {
			title = util.CleanText(link.Text())
		}
		if title == "" {
			return true // keep scanning
		}

		rec := domain.RawRecord{
			"Title":  title,
			"Agency": cfg.Agency,
			"URL":    href,
		}
		if cfg.DateSelector != "" {
			rec["Close Date"] = util.ParseLooseDate(item.Find(cfg.DateSelector).First().Text())
		}
		if cfg.DescSelector != "" {
			rec["Description"] = truncate(util.CleanText(item.Find(cfg.DescSelector).First().Text()), 3500)
		}

		recs = append(recs, rec)
		return true
	})

	return recs
}

func resolveURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	hu, err := url.Parse(href)
	if err != nil {
		return href
	}
	return bu.ResolveReference(hu).String()
}

// truncate caps on runes, not bytes, so a cut never leaves a torn
// multi-byte character in the description.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Package browserlist handles the sources whose listings only exist after
// client-side rendering. It drives a pooled headless session to the page,
// waits for the listing selector, then parses the rendered DOM with the
// same selector rules the plain-HTTP adapter uses.
package browserlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/htmllist"
	"oppscout-engine/internal/scrape/types"
)

type Config struct {
	htmllist.Config `mapstructure:",squash"`

	WaitSelector string `mapstructure:"wait_selector"` // defaults to item_selector
	SettleMillis int    `mapstructure:"settle_millis"` // extra delay after the wait
}

type Scraper struct {
	name string
	cfg  Config
	env  types.Env
}

func New(name string, args map[string]any, env types.Env) (*Scraper, error) {
	cfg := Config{}
	cfg.MaxItems = 50
	if err := types.DecodeArgs(args, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("browserlist %q: url is required", name)
	}
	if cfg.ItemSelector == "" {
		return nil, fmt.Errorf("browserlist %q: item_selector is required", name)
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = cfg.ItemSelector
	}
	return &Scraper{name: name, cfg: cfg, env: env}, nil
}

func (s *Scraper) Name() string         { return s.name }
func (s *Scraper) RequiresDriver() bool { return true }

func (s *Scraper) Fetch(ctx context.Context, sess *driver.Session) ([]domain.RawRecord, error) {
	if sess == nil {
		return nil, errors.New("browserlist: no browser session")
	}

	actions := []chromedp.Action{
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitVisible(s.cfg.WaitSelector, chromedp.ByQuery),
	}
	if s.cfg.SettleMillis > 0 {
		actions = append(actions, chromedp.Sleep(time.Duration(s.cfg.SettleMillis)*time.Millisecond))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := sess.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("%s render: %w", s.name, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%s parse rendered html: %w", s.name, err)
	}

	return htmllist.Extract(doc, s.cfg.Config, s.cfg.URL), nil
}

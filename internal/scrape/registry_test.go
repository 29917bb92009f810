package scrape

import (
	"strings"
	"testing"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/scrape/types"
	"oppscout-engine/internal/scrape/util"
)

func testEnv() types.Env {
	return types.Env{UserAgent: "test", Limiter: util.NewHostLimiter(100, 10)}
}

func TestKnownIDs(t *testing.T) {
	for _, id := range []string{"samgov", "grantsgov", "dodsbir", "sbirawards", "htmllist", "browserlist"} {
		if !Known(id) {
			t.Errorf("adapter %q should be registered", id)
		}
	}
	if Known("selenium") {
		t.Errorf("unexpected adapter id")
	}
	if len(KnownIDs()) != 6 {
		t.Errorf("KnownIDs = %v", KnownIDs())
	}
}

func TestBuildUnknownAdapter(t *testing.T) {
	_, err := Build(config.Source{Name: "X", Adapter: "carrier-pigeon"}, testEnv())
	if err == nil || !strings.Contains(err.Error(), "unknown adapter") {
		t.Fatalf("expected unknown-adapter error, got %v", err)
	}
}

func TestBuildDecodesArgs(t *testing.T) {
	src := config.Source{
		Name:    "NASC Solutions",
		Adapter: "htmllist",
		Args: map[string]any{
			"url":           "https://nascsolutions.tech/opportunities/",
			"item_selector": "article",
			"max_items":     "25", // weakly typed on purpose; yaml and json disagree
		},
	}
	ad, err := Build(src, testEnv())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ad.Name() != "NASC Solutions" {
		t.Fatalf("Name = %q", ad.Name())
	}
	if ad.RequiresDriver() {
		t.Fatalf("htmllist must not require a driver")
	}
}

func TestBuildRejectsMisspelledArg(t *testing.T) {
	src := config.Source{
		Name:    "Broken",
		Adapter: "htmllist",
		Args: map[string]any{
			"url":            "https://example.com",
			"items_selector": "article", // typo
		},
	}
	if _, err := Build(src, testEnv()); err == nil {
		t.Fatalf("misspelled args must fail at build time")
	}
}

func TestBrowserAdapterRequiresDriver(t *testing.T) {
	src := config.Source{
		Name:           "DARPA",
		Adapter:        "browserlist",
		RequiresDriver: true,
		Args: map[string]any{
			"url":           "https://www.darpa.mil/work-with-us/opportunities",
			"item_selector": "div.listing__item",
		},
	}
	ad, err := Build(src, testEnv())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !ad.RequiresDriver() {
		t.Fatalf("browserlist must require a driver")
	}
}

func TestValidateSourcesSurfacesFirstError(t *testing.T) {
	sources := []config.Source{
		{Name: "OK", Adapter: "grantsgov", Args: map[string]any{"keyword": "defense"}},
		{Name: "Bad", Adapter: "nope"},
	}
	if err := ValidateSources(sources, testEnv()); err == nil || !strings.Contains(err.Error(), `"Bad"`) {
		t.Fatalf("expected error naming the bad source, got %v", err)
	}
}

package scrape

import (
	"fmt"
	"sort"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/scrape/browserlist"
	"oppscout-engine/internal/scrape/dodsbir"
	"oppscout-engine/internal/scrape/grantsgov"
	"oppscout-engine/internal/scrape/htmllist"
	"oppscout-engine/internal/scrape/samgov"
	"oppscout-engine/internal/scrape/sbirawards"
	"oppscout-engine/internal/scrape/types"
)

// Factory builds an adapter from a source's declarative config. Arg
// decoding happens inside the factory, so a bad args block surfaces when
// the registry is consulted at load time, not mid-run.
type Factory func(name string, args map[string]any, env types.Env) (types.Adapter, error)

var registry = map[string]Factory{
	"samgov": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return samgov.New(n, a, e)
	},
	"grantsgov": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return grantsgov.New(n, a, e)
	},
	"dodsbir": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return dodsbir.New(n, a, e)
	},
	"sbirawards": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return sbirawards.New(n, a, e)
	},
	"htmllist": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return htmllist.New(n, a, e)
	},
	"browserlist": func(n string, a map[string]any, e types.Env) (types.Adapter, error) {
		return browserlist.New(n, a, e)
	},
}

func Known(adapterID string) bool {
	_, ok := registry[adapterID]
	return ok
}

func KnownIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build constructs the adapter for one configured source.
func Build(src config.Source, env types.Env) (types.Adapter, error) {
	f, ok := registry[src.Adapter]
	if !ok {
		return nil, fmt.Errorf("source %q: unknown adapter %q (known: %v)", src.Name, src.Adapter, KnownIDs())
	}
	ad, err := f(src.Name, src.Args, env)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", src.Name, err)
	}
	return ad, nil
}

// ValidateSources builds every configured source once so config errors
// (unknown adapter ids, undecodable args) fail at startup.
func ValidateSources(sources []config.Source, env types.Env) error {
	for _, src := range sources {
		if _, err := Build(src, env); err != nil {
			return err
		}
	}
	return nil
}

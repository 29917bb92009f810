package types

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"oppscout-engine/internal/domain"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/scrape/util"
)

// Adapter is one isolated integration against an external opportunity
// source. Fetch gets a live browser session only when RequiresDriver is
// true; HTTP-only adapters receive nil.
type Adapter interface {
	Name() string
	RequiresDriver() bool
	Fetch(ctx context.Context, sess *driver.Session) ([]domain.RawRecord, error)
}

// Outcome is the terminal result of one adapter within one run: records
// or an error, never both meaningful at once.
type Outcome struct {
	Source  string
	Records []domain.RawRecord
	Err     error
	Elapsed time.Duration
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Env is the shared plumbing every adapter gets: a common User-Agent, a
// per-host limiter shared across the whole run, and a secrets lookup.
type Env struct {
	UserAgent string
	Limiter   *util.HostLimiter
	APIKey    func(name string) (string, error)
}

// DecodeArgs maps a source's free-form args block onto a typed adapter
// config, rejecting keys the adapter doesn't know; a misspelled arg
// should fail at config load, not silently no-op at run time.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("decode adapter args: %w", err)
	}
	return nil
}

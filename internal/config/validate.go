package config

import (
	"fmt"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate trims the sources list and applies sanity checks.
// Adapter-id resolution is checked separately against the scrape registry
// (the config package must not import it).
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	// ---- Normalization ----

	for i := range out.Sources {
		out.Sources[i].Name = strings.TrimSpace(out.Sources[i].Name)
		out.Sources[i].Adapter = strings.TrimSpace(strings.ToLower(out.Sources[i].Adapter))
	}

	if out.Pipeline.AdapterTimeoutSeconds == 0 {
		out.Pipeline.AdapterTimeoutSeconds = 30
	}
	if out.Pipeline.DriverSessions == 0 {
		out.Pipeline.DriverSessions = 2
	}
	if out.Pipeline.HostRatePerSec == 0 {
		out.Pipeline.HostRatePerSec = 1.0
	}
	if out.Pipeline.HostBurst == 0 {
		out.Pipeline.HostBurst = 2
	}
	if out.Pipeline.JobExpiryHours == 0 {
		out.Pipeline.JobExpiryHours = 24
	}
	if out.Matchmaking.BatchSize == 0 {
		out.Matchmaking.BatchSize = 8
	}
	if out.Matchmaking.TimeoutSeconds == 0 {
		out.Matchmaking.TimeoutSeconds = 30
	}
	if out.Matchmaking.MinScore == 0 {
		out.Matchmaking.MinScore = 0.7
	}

	// ---- Validation rules ----

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}

	if out.Pipeline.AdapterTimeoutSeconds < 5 {
		res.addWarn("pipeline.adapter_timeout_seconds is very low (%d); slow sources will always fail.", out.Pipeline.AdapterTimeoutSeconds)
	}
	if out.Pipeline.DriverSessions < 1 {
		res.addErr("pipeline.driver_sessions must be >= 1")
	} else if out.Pipeline.DriverSessions > 4 {
		res.addWarn("pipeline.driver_sessions is %d; each session is a full browser process.", out.Pipeline.DriverSessions)
	}

	if out.Matchmaking.Enabled {
		if out.Matchmaking.MinScore < 0 || out.Matchmaking.MinScore > 1 {
			res.addErr("matchmaking.min_score must be within [0,1]")
		}
		if strings.TrimSpace(out.Profile.Summary) == "" {
			res.addWarn("profile.summary is empty; matchmaking scores will be meaningless.")
		}
	}

	seen := map[string]bool{}
	enabled := 0
	for i, s := range out.Sources {
		if s.Name == "" {
			res.addErr("sources[%d].name is required", i)
			continue
		}
		if s.Adapter == "" {
			res.addErr("sources[%d] (%s): adapter is required", i, s.Name)
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			res.addErr("duplicate source name %q", s.Name)
		}
		seen[key] = true
		if s.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		res.addWarn("no sources enabled; pipeline runs will always produce empty reports.")
	}

	return out, res
}

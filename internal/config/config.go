package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Source is one declarative entry in the sources list. Adding a source is
// a config change; the orchestrator never names sources directly.
type Source struct {
	Name           string         `yaml:"name" json:"name"`
	Adapter        string         `yaml:"adapter" json:"adapter"`
	Enabled        bool           `yaml:"enabled" json:"enabled"`
	RequiresDriver bool           `yaml:"requires_driver" json:"requires_driver"`
	Args           map[string]any `yaml:"args" json:"args"`
}

type Config struct {
	App struct {
		Port    int    `yaml:"port" json:"port"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
	} `yaml:"app" json:"app"`

	Pipeline struct {
		AdapterTimeoutSeconds int     `yaml:"adapter_timeout_seconds" json:"adapter_timeout_seconds"`
		DriverSessions        int     `yaml:"driver_sessions" json:"driver_sessions"`
		UserAgent             string  `yaml:"user_agent" json:"user_agent"`
		HostRatePerSec        float64 `yaml:"host_rate_per_sec" json:"host_rate_per_sec"`
		HostBurst             int     `yaml:"host_burst" json:"host_burst"`
		JobExpiryHours        int     `yaml:"job_expiry_hours" json:"job_expiry_hours"`
		TestingMode           bool    `yaml:"testing_mode" json:"testing_mode"`
		TestingScoreCap       int     `yaml:"testing_score_cap" json:"testing_score_cap"`
	} `yaml:"pipeline" json:"pipeline"`

	Matchmaking struct {
		Enabled        bool    `yaml:"enabled" json:"enabled"`
		Model          string  `yaml:"model" json:"model"`
		MinScore       float64 `yaml:"min_score" json:"min_score"`
		BatchSize      int     `yaml:"batch_size" json:"batch_size"`
		TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"matchmaking" json:"matchmaking"`

	Profile struct {
		Summary             string `yaml:"summary" json:"summary"`
		ScopeDescription    string `yaml:"scope_description" json:"scope_description"`
		PeriodOfPerformance string `yaml:"period_of_performance" json:"period_of_performance"`
	} `yaml:"profile" json:"profile"`

	Sources []Source `yaml:"sources" json:"sources"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/telemetry"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// MicrobenchConfig is the on-disk configuration.
type MicrobenchConfig struct {
	Meta      MetaConfig       `yaml:"meta"`
	Harness   HarnessConfig    `yaml:"harness"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	History   HistoryConfig    `yaml:"history"`
	Export    ExportConfig     `yaml:"export"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// HarnessConfig tunes the measurement loop and the coordinator.
type HarnessConfig struct {
	// Tries is the number of trials per worker.
	Tries int `yaml:"tries" validate:"gte=1,lte=1000"`

	// Target is the requested timed interval; 0 uses the calibrated Enough.
	Target time.Duration `yaml:"target" validate:"gte=0"`

	// Warmup is the number of unmeasured passes before timing.
	Warmup int `yaml:"warmup" validate:"gte=0"`

	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	DrainFloor   time.Duration `yaml:"drain_floor" validate:"gt=0"`
	DrainSlack   time.Duration `yaml:"drain_slack" validate:"gte=0"`
	DrainGrace   time.Duration `yaml:"drain_grace" validate:"gt=0"`

	// TrimTail is the number of samples kept from each end when merging
	// worker results. Negative keeps a third of the capacity.
	TrimTail int `yaml:"trim_tail"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// HistoryConfig locates the run history.
type HistoryConfig struct {
	Path string `yaml:"path" validate:"required"`

	// Save records every valid run without --save.
	Save bool `yaml:"save"`

	// RegressionPct is the default threshold for comparisons.
	RegressionPct float64 `yaml:"regression_pct" validate:"gt=0,lte=1000"`
}

type ExportConfig struct {
	// PrometheusTextfile receives outcome gauges after each run. Empty
	// disables it.
	PrometheusTextfile string `yaml:"prometheus_textfile"`

	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig enables InfluxDB export when URL is set. The token is read
// from the environment variable named by TokenEnv, never from the file.
type InfluxConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Org      string `yaml:"org" validate:"required_with=URL"`
	Bucket   string `yaml:"bucket" validate:"required_with=URL"`
	TokenEnv string `yaml:"token_env"`
}

// Token returns the token from the environment.
func (c InfluxConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() MicrobenchConfig {
	coord := benchmp.DefaultConfig()
	tel := telemetry.DefaultConfig()
	return MicrobenchConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Harness: HarnessConfig{
			Tries:        timing.Tries,
			PollInterval: coord.PollInterval,
			DrainFloor:   coord.DrainFloor,
			DrainSlack:   coord.DrainSlack,
			DrainGrace:   coord.DrainGrace,
			TrimTail:     -1,
		},
		Logging: LoggingConfig{
			Level: "warn",
			Dir:   "~/.microbench/logs",
		},
		Telemetry: telemetry.Config{
			ServiceName:    tel.ServiceName,
			ServiceVersion: tel.ServiceVersion,
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   tel.OTLPEndpoint,
			OTLPInsecure:   tel.OTLPInsecure,
		},
		History: HistoryConfig{
			Path:          "~/.microbench/history",
			RegressionPct: 5,
		},
		Export: ExportConfig{
			Influx: InfluxConfig{TokenEnv: "INFLUX_TOKEN"},
		},
	}
}

var validate = validator.New()

// Validate checks the struct tags.
func (c MicrobenchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Coordinator applies the harness section to a coordinator configuration.
func (h HarnessConfig) Coordinator(cfg benchmp.Config) benchmp.Config {
	cfg.PollInterval = h.PollInterval
	cfg.DrainFloor = h.DrainFloor
	cfg.DrainSlack = h.DrainSlack
	if h.DrainSlack == 0 {
		cfg.DrainSlack = benchmp.NoDrainSlack
	}
	cfg.DrainGrace = h.DrainGrace
	if h.TrimTail >= 0 {
		tail := h.TrimTail
		cfg.Trim = func(capacity int) results.TrimPolicy {
			return results.TrimPolicy{Capacity: capacity, Tail: min(tail, capacity/2)}
		}
	}
	return cfg
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

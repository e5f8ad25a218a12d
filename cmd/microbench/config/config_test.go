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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// TestCreateDefault verifies default config creation.
func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".microbench", "microbench.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if !strings.Contains(string(data), "drain_floor: 5s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	var cfg MicrobenchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.Meta.Version != CurrentConfigVersion {
		t.Errorf("Meta.Version = %q, want %q", cfg.Meta.Version, CurrentConfigVersion)
	}
	if cfg.Harness.Tries != 11 {
		t.Errorf("Harness.Tries = %d, want 11", cfg.Harness.Tries)
	}
	if cfg.Telemetry.TraceExporter != "none" {
		t.Errorf("Telemetry.TraceExporter = %q, want none", cfg.Telemetry.TraceExporter)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "microbench.yaml")
	content := `
harness:
  tries: 5
  target: 250ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Harness.Tries != 5 {
		t.Errorf("Tries = %d, want 5", cfg.Harness.Tries)
	}
	if cfg.Harness.Target != 250*time.Millisecond {
		t.Errorf("Target = %v, want 250ms", cfg.Harness.Target)
	}
	if cfg.Harness.DrainFloor != 5*time.Second {
		t.Errorf("DrainFloor = %v, want default 5s", cfg.Harness.DrainFloor)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.History.RegressionPct != 5 {
		t.Errorf("RegressionPct = %v, want 5", cfg.History.RegressionPct)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero tries", "harness:\n  tries: 0\n"},
		{"negative target", "harness:\n  target: -1s\n"},
		{"unknown level", "logging:\n  level: loud\n"},
		{"unknown exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"influx without org", "export:\n  influx:\n    url: http://localhost:8086\n    bucket: b\n"},
		{"bad yaml", "harness: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "microbench.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Error("LoadFile() should fail")
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile() of a missing file should fail")
	}
}

func TestHarnessConfig_Coordinator(t *testing.T) {
	h := DefaultConfig().Harness
	h.PollInterval = 2 * time.Millisecond
	h.DrainSlack = 0

	cfg := h.Coordinator(benchmp.DefaultConfig())
	if cfg.PollInterval != 2*time.Millisecond {
		t.Errorf("PollInterval = %v, want 2ms", cfg.PollInterval)
	}
	if cfg.DrainSlack != benchmp.NoDrainSlack {
		t.Errorf("DrainSlack = %v, want NoDrainSlack", cfg.DrainSlack)
	}
	if got := cfg.Trim(11).Tail; got != 3 {
		t.Errorf("default trim tail = %d, want 3", got)
	}

	h.TrimTail = 1
	cfg = h.Coordinator(benchmp.DefaultConfig())
	if got := cfg.Trim(11); got.Tail != 1 || got.Capacity != 11 {
		t.Errorf("trim = %+v, want tail 1 capacity 11", got)
	}
	if got := cfg.Trim(1).Tail; got != 0 {
		t.Errorf("trim tail for capacity 1 = %d, want 0", got)
	}
}

func TestInfluxConfig_Token(t *testing.T) {
	t.Setenv("MB_TEST_INFLUX_TOKEN", "secret")
	c := InfluxConfig{TokenEnv: "MB_TEST_INFLUX_TOKEN"}
	if c.Token() != "secret" {
		t.Errorf("Token() = %q, want secret", c.Token())
	}
	if (InfluxConfig{}).Token() != "" {
		t.Error("Token() without TokenEnv should be empty")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("ExpandHome(~/x) = %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("ExpandHome(/abs) = %q", got)
	}
	if got := ExpandHome("~user"); got != "~user" {
		t.Errorf("ExpandHome(~user) = %q", got)
	}
}

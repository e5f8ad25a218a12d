// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/microbench/cmd/microbench/config"
	"github.com/AleutianAI/microbench/pkg/logging"
	"github.com/AleutianAI/microbench/pkg/telemetry"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string

	cfg      config.MicrobenchConfig
	level    logging.Level
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// execute runs one invocation with args, writing command output to stdout.
// Telemetry and the log file are released even when the command fails.
func execute(ctx context.Context, args []string, stdout io.Writer) error {
	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, a.teardown(ctx))
}

// newRootCmd builds the command tree around a.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "microbench",
		Short: "Operating system and hardware microbenchmarks",
		Long: `microbench times small operations (system calls, IPC round trips,
memory loads) with calibrated clock and loop overheads, optionally across
several synchronized worker processes.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd.Context()) },
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default ~/.microbench/microbench.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config and MICROBENCH_LOG_LEVEL)")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newCalibrateCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	return rootCmd
}

func (a *app) setup(ctx context.Context) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		err = config.Load("")
		a.cfg = config.Global
	}
	if err != nil {
		return err
	}

	a.level, err = a.resolveLevel()
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   a.level,
		LogDir:  config.ExpandHome(a.cfg.Logging.Dir),
		Service: "microbench",
		JSON:    a.cfg.Logging.JSON,
	})

	a.shutdown, err = telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		a.logger.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}
	return nil
}

// resolveLevel resolves the flag, then the environment, then the config file.
func (a *app) resolveLevel() (logging.Level, error) {
	if a.logLevel != "" {
		return logging.ParseLevel(a.logLevel)
	}
	def, err := logging.ParseLevel(a.cfg.Logging.Level)
	if err != nil {
		return def, err
	}
	return logging.LevelFromEnv(def), nil
}

// teardown is safe to call when setup never ran.
func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.WithoutCancel(ctx)))
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/telemetry"
	"github.com/AleutianAI/microbench/pkg/timing"
)

func newCalibrateCmd(a *app) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the clock and loop overheads",
		Long: `Measures the shortest accurately timed interval and the clock and
loop overheads subtracted from every result.

ENOUGH, TIMING_O and LOOP_O in the environment override the measured values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, span := telemetry.StartSpan(cmd.Context(), "microbench", "calibrate")
			defer span.End()

			cal := timing.New(
				timing.WithTries(a.cfg.Harness.Tries),
				timing.WithLogger(telemetry.LoggerWithTrace(ctx, a.logger.Slog())),
			).Calibration()

			w := cmd.OutOrStdout()
			if asYAML {
				data, err := yaml.Marshal(cal)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			}
			fmt.Fprintf(w, "enough           %v\n", cal.Enough)
			fmt.Fprintf(w, "timing overhead  %v\n", cal.TimingOverhead)
			fmt.Fprintf(w, "loop overhead    %.4f ns\n", cal.LoopOverhead)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print as YAML")
	return cmd
}

func newListCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered payloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, info := range benchmp.Registered() {
				fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.Description)
			}
			return tw.Flush()
		},
	}
}

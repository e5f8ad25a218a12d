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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/microbench/pkg/history"
	"github.com/AleutianAI/microbench/pkg/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and compare recorded runs",
	}
	cmd.AddCommand(newHistoryListCmd(a))
	cmd.AddCommand(newHistoryShowCmd(a))
	cmd.AddCommand(newHistoryCompareCmd(a))
	cmd.AddCommand(newHistoryDeleteCmd(a))
	return cmd
}

// withStore opens the history store for the duration of fn.
func (a *app) withStore(fn func(s *history.Store) error) error {
	s, err := a.openHistory()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func newHistoryListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [payload]",
		Short: "List recorded runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.withStore(func(s *history.Store) error {
				recs, err := s.List(name, limit)
				if err != nil {
					return err
				}
				return writeRecords(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func writeRecords(w io.Writer, recs []history.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tPAYLOAD\tP\tPER ITERATION\tCV")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%.2f%%\n",
			r.ID, r.Timestamp.Local().Format(time.DateTime), r.Label(),
			r.Parallelism, report.FormatRate(r.RateNS), r.Summary.CV*100)
	}
	return tw.Flush()
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a recorded run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *history.Store) error {
				r, err := s.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			})
		},
	}
}

func newHistoryCompareCmd(a *app) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "compare <run-id> [baseline-id]",
		Short: "Compare a run against a baseline",
		Long: `Compares the per-iteration cost of a recorded run against a baseline run.
Without a baseline id, the newest earlier run of the same payload is used.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold <= 0 {
				threshold = a.cfg.History.RegressionPct
			}
			return a.withStore(func(s *history.Store) error {
				cur, err := s.Get(args[0])
				if err != nil {
					return err
				}
				var base history.Record
				if len(args) == 2 {
					base, err = s.Get(args[1])
				} else {
					base, err = previous(s, cur)
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), history.Compare(cur, base, threshold).String())
				return err
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Regression threshold in percent (default from config)")
	return cmd
}

// previous finds the newest run of cur's payload recorded before cur.
func previous(s *history.Store, cur history.Record) (history.Record, error) {
	recs, err := s.List(cur.Name, 0)
	if err != nil {
		return history.Record{}, err
	}
	for _, r := range recs {
		if r.ID != cur.ID && r.Timestamp.Before(cur.Timestamp) {
			return r, nil
		}
	}
	return history.Record{}, fmt.Errorf("no run of %s before %s: %w", cur.Name, cur.ID, history.ErrNotFound)
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete recorded runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *history.Store) error {
				for _, id := range args {
					if err := s.Delete(id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					a.logger.Info("run deleted", "run_id", id)
				}
				return nil
			})
		},
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/squidgrid/services/squidgrid/matcher"
	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
	"github.com/AleutianAI/squidgrid/services/squidgrid/streamtable"
)

func newTableCmd(a *app) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Manage the cached stream table",
	}
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download the stream table into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			words, v, err := a.loadTable(cmd.Context(), variant)
			if err != nil {
				return err
			}
			a.out.Success(fmt.Sprintf("%s table ready", v))
			a.out.KV("entries", len(words))
			return nil
		},
	}
	fetch.Flags().StringVar(&variant, "variant", "", "small or big (default from config, else small)")
	cmd.AddCommand(fetch)
	return cmd
}

// loadTable reads the stream table through the artifact cache, fetching it
// from the configured source on a miss.
func (a *app) loadTable(ctx context.Context, variantFlag string) ([]uint32, streamtable.Variant, error) {
	v, err := a.variant(variantFlag)
	if err != nil {
		return nil, "", err
	}
	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, "", err
	}
	source, err := a.newSource(ctx)
	if err != nil {
		return nil, "", err
	}
	words, err := streamtable.NewLoader(cache, source, a.log()).Load(ctx, v)
	if err != nil {
		return nil, "", err
	}
	return words, v, nil
}

func newMatchCmd(a *app) *cobra.Command {
	var variant string
	var limit int
	cmd := &cobra.Command{
		Use:   "match <index>...",
		Short: "Find where a sequence of observed layouts sits in the stream table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			observed, err := parseIndices(args)
			if err != nil {
				return err
			}
			words, _, err := a.loadTable(cmd.Context(), variant)
			if err != nil {
				return err
			}
			m := matcher.New(words,
				matcher.WithOuterWindow(a.cfg.Search.OuterWindow),
				matcher.WithNestedWindow(a.cfg.Search.NestedWindow))
			alignments := m.FindFirst(observed, limit+1)
			truncated := len(alignments) > limit
			if truncated {
				alignments = alignments[:limit]
			}

			if len(alignments) == 0 {
				a.out.Warning("no alignment found")
				return nil
			}
			for _, al := range alignments {
				a.out.Info(fmt.Sprintf("positions %s  gaps %s", joinInts(al.Positions), joinInts(al.Gaps())))
			}
			a.out.KV("alignments", len(alignments))
			if truncated {
				a.out.Warning(fmt.Sprintf("more than %d alignments, output truncated", limit))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "small or big (default from config, else small)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum alignments to print")
	return cmd
}

func newPriorsCmd(a *app) *cobra.Command {
	var timerSteps int64
	cmd := &cobra.Command{
		Use:   "priors <index>...",
		Short: "Print the prior arrays for a sequence of observed layouts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			observed, err := parseIndices(args)
			if err != nil {
				return err
			}
			estimate := prior.NoEstimate
			if cmd.Flags().Changed("timer-steps") {
				estimate = prior.EstimateOf(timerSteps)
			}
			p := prior.Build(observed, a.cfg.Beliefs, estimate)
			for i := range p.Means {
				label := "in play"
				if i < len(p.Observed) {
					label = fmt.Sprintf("#%d", p.Observed[i])
				}
				a.out.Info(fmt.Sprintf("%-3d %-10s mean %9.3f  stddev %9.3f", i, label, p.Means[i], p.StdDevs[i]))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&timerSteps, "timer-steps", 0, "timer estimate for the board in play, in steps")
	return cmd
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

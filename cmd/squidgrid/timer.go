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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/squidgrid/services/squidgrid/prior"
)

func newTimerCmd(a *app) *cobra.Command {
	var (
		seconds float64
		loading bool
		rewards int
	)
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Board timer utilities",
	}
	estimate := &cobra.Command{
		Use:   "estimate",
		Short: "Convert an elapsed time into an RNG step estimate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if seconds < 0 {
				return fmt.Errorf("--seconds must not be negative, got %g", seconds)
			}
			steps := prior.StepEstimator{Params: a.cfg.Timer}.Estimate(seconds, loading, rewards)
			a.out.KV("steps", steps)
			return nil
		},
	}
	estimate.Flags().Float64Var(&seconds, "seconds", 0, "elapsed seconds")
	estimate.Flags().BoolVar(&loading, "loading", false, "the interval includes loading the room")
	estimate.Flags().IntVar(&rewards, "rewards", 0, "rewards collected (0-2)")
	_ = estimate.MarkFlagRequired("seconds")
	cmd.AddCommand(estimate)
	return cmd
}

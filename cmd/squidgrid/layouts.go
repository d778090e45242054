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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
	"github.com/AleutianAI/squidgrid/services/squidgrid/session"
)

func newLayoutsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "Enumerate, look up and render board layouts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Build or read the layout table and print its size",
			Args:  cobra.NoArgs,
			RunE:  a.runLayoutsCount,
		},
		&cobra.Command{
			Use:   "lookup <encoding>",
			Short: "Print the index of a 64-character layout encoding",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runLayoutsLookup,
		},
		&cobra.Command{
			Use:   "show <index>",
			Short: "Render the layout at an index",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runLayoutsShow,
		},
		&cobra.Command{
			Use:   "random",
			Short: "Render a random layout",
			Args:  cobra.NoArgs,
			RunE:  a.runLayoutsRandom,
		},
	)
	return cmd
}

// layoutSession opens the artifact cache and loads the layout table.
func (a *app) layoutSession(ctx context.Context) (*session.Session, error) {
	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	sess := session.New(a.cfg.SessionConfig(), session.Deps{Cache: cache, Logger: a.log()})
	if err := sess.LoadLayouts(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func (a *app) runLayoutsCount(cmd *cobra.Command, _ []string) error {
	sess, err := a.layoutSession(cmd.Context())
	if err != nil {
		return err
	}
	a.out.KV("layouts", sess.LayoutCount())
	return nil
}

func (a *app) runLayoutsLookup(cmd *cobra.Command, args []string) error {
	sess, err := a.layoutSession(cmd.Context())
	if err != nil {
		return err
	}
	res, err := sess.Lookup(args[0])
	if err != nil {
		return err
	}
	if res.Status != session.LookupOK {
		return fmt.Errorf("%w: %s is not a valid layout", errNotFound, args[0])
	}
	l := layout.MustParse(args[0])
	a.out.Grid(fmt.Sprintf("#%d", res.Index), l.Rows())
	a.out.KV("index", res.Index)
	return nil
}

func (a *app) runLayoutsShow(cmd *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	sess, err := a.layoutSession(cmd.Context())
	if err != nil {
		return err
	}
	l, err := sess.Decode(index)
	if err != nil {
		return err
	}
	a.out.Grid(fmt.Sprintf("#%d", index), l.Rows())
	a.out.KV("encoding", l.Encode())
	return nil
}

func (a *app) runLayoutsRandom(cmd *cobra.Command, _ []string) error {
	sess, err := a.layoutSession(cmd.Context())
	if err != nil {
		return err
	}
	l := sess.RandomLayout()
	res, err := sess.Lookup(l.Encode())
	if err != nil {
		return err
	}
	a.out.Grid(fmt.Sprintf("#%d", res.Index), l.Rows())
	a.out.KV("index", res.Index)
	a.out.KV("encoding", l.Encode())
	return nil
}

// parseIndex parses a layout index and range-checks it.
func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid layout index %q: %w", s, err)
	}
	if n >= layout.LayoutCount {
		return 0, fmt.Errorf("%w: layout index %d is outside [0, %d)", errNotFound, n, layout.LayoutCount)
	}
	return uint32(n), nil
}

func parseIndices(args []string) ([]uint32, error) {
	out := make([]uint32, len(args))
	for i, s := range args {
		n, err := parseIndex(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

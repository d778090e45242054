// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history holds the boards the player has already solved this
// session, as a fixed row of drawing slots, oldest first.
package history

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
)

// DefaultCapacity is the number of history slots.
const DefaultCapacity = 3

var (
	// ErrSlotOutOfRange indicates a slot number outside [0, capacity).
	ErrSlotOutOfRange = errors.New("history slot out of range")

	// ErrUnknownIndex indicates a layout index the resolver cannot decode.
	ErrUnknownIndex = errors.New("unknown layout index")
)

// Resolver maps between grids and canonical indices. *layout.IndexTable
// implements it.
type Resolver interface {
	IndexOf(l layout.Layout) (uint32, bool)
	Layout(index uint32) (layout.Layout, bool)
}

// History is a fixed number of drawing slots. A slot may hold a complete
// layout, a partial drawing or nothing.
//
// Thread Safety: Not safe for concurrent use; the session serializes access.
type History struct {
	slots []layout.Draft
}

// New creates a history with capacity slots. Capacity below one uses
// DefaultCapacity.
func New(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &History{slots: make([]layout.Draft, capacity)}
}

// Capacity returns the number of slots.
func (h *History) Capacity() int {
	return len(h.slots)
}

// Slots returns the encoding of every slot, oldest first.
func (h *History) Slots() []string {
	out := make([]string, len(h.slots))
	for i := range h.slots {
		out[i] = h.slots[i].Encode()
	}
	return out
}

// Slot returns the grid in slot i.
func (h *History) Slot(i int) (layout.Layout, error) {
	if err := h.check(i); err != nil {
		return layout.Layout{}, err
	}
	return h.slots[i].Layout, nil
}

// Set replaces slot i with the given encoding. An empty encoding clears it.
func (h *History) Set(i int, encoding string) error {
	if err := h.check(i); err != nil {
		return err
	}
	d, err := layout.NewDraft(encoding)
	if err != nil {
		return err
	}
	h.slots[i] = *d
	return nil
}

// Connect draws a squid between two cells of slot i.
func (h *History) Connect(i int, from, to layout.Point) (bool, error) {
	if err := h.check(i); err != nil {
		return false, err
	}
	return h.slots[i].Connect(from, to), nil
}

// Shift drops the oldest slot, moves the others down and empties the last.
func (h *History) Shift() {
	copy(h.slots, h.slots[1:])
	h.slots[len(h.slots)-1].Clear()
}

// Clear empties every slot.
func (h *History) Clear() {
	for i := range h.slots {
		h.slots[i].Clear()
	}
}

// Observed returns the indices of the leading slots that hold valid
// layouts. It stops at the first slot that does not resolve, so a gap
// hides everything after it.
func (h *History) Observed(r Resolver) []uint32 {
	out := make([]uint32, 0, len(h.slots))
	for i := range h.slots {
		idx, ok := r.IndexOf(h.slots[i].Layout)
		if !ok {
			break
		}
		out = append(out, idx)
	}
	return out
}

// Commit writes a solved board into the history.
//
// Description:
//
//	The board goes into the first slot after the resolvable prefix. When
//	every slot already resolves, the history shifts first so the board
//	lands in the last slot.
//
// Outputs:
//
//	int - The slot written.
//	error - ErrUnknownIndex if r cannot decode index.
func (h *History) Commit(r Resolver, index uint32) (int, error) {
	l, ok := r.Layout(index)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownIndex, index)
	}
	fill := len(h.Observed(r))
	if fill == len(h.slots) {
		h.Shift()
		fill--
	}
	h.slots[fill] = layout.Draft{Layout: l}
	return fill, nil
}

func (h *History) check(i int) error {
	if i < 0 || i >= len(h.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, i, len(h.slots))
	}
	return nil
}

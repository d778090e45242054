// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
)

var blank = layout.FromRows("........", "........", "........", "........", "........", "........", "........", "........")

var boards = []string{
	layout.FromRows("22......", "333.....", "4444....", "........", "........", "........", "........", "........"),
	layout.FromRows("........", "..4.....", "..4.....", "..4..2..", ".34..2..", ".3......", ".3......", "........"),
	layout.FromRows("........", "........", "........", "........", "........", "........", "....4444", "...33322"),
	layout.FromRows("234.....", "234.....", ".34.....", "..4.....", "........", "........", "........", "........"),
}

// mapResolver resolves only the boards above, board i having index 100+i.
type mapResolver struct{}

func (mapResolver) IndexOf(l layout.Layout) (uint32, bool) {
	enc := l.Encode()
	for i, b := range boards {
		if b == enc {
			return uint32(100 + i), true
		}
	}
	return 0, false
}

func (mapResolver) Layout(index uint32) (layout.Layout, bool) {
	i := int(index) - 100
	if i < 0 || i >= len(boards) {
		return layout.Layout{}, false
	}
	return layout.MustParse(boards[i]), true
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, 5, New(5).Capacity())
	assert.Equal(t, []string{blank, blank, blank}, New(0).Slots())
}

func TestObserved_StopsAtFirstUnresolvable(t *testing.T) {
	h := New(3)
	require.NoError(t, h.Set(0, boards[0]))
	require.NoError(t, h.Set(2, boards[2]))

	assert.Equal(t, []uint32{100}, h.Observed(mapResolver{}))

	require.NoError(t, h.Set(1, boards[1]))
	assert.Equal(t, []uint32{100, 101, 102}, h.Observed(mapResolver{}))
}

func TestObserved_Empty(t *testing.T) {
	assert.Empty(t, New(3).Observed(mapResolver{}))
}

func TestSet_Errors(t *testing.T) {
	h := New(3)
	assert.True(t, errors.Is(h.Set(3, boards[0]), ErrSlotOutOfRange))
	assert.True(t, errors.Is(h.Set(-1, boards[0]), ErrSlotOutOfRange))
	assert.True(t, errors.Is(h.Set(0, "bogus"), layout.ErrInvalidEncoding))

	require.NoError(t, h.Set(0, boards[0]))
	require.NoError(t, h.Set(0, ""))
	assert.Equal(t, blank, h.Slots()[0])
}

func TestShift(t *testing.T) {
	h := New(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Set(i, boards[i]))
	}

	h.Shift()
	assert.Equal(t, []string{boards[1], boards[2], blank}, h.Slots())
	assert.Equal(t, []uint32{101, 102}, h.Observed(mapResolver{}))
}

func TestClear(t *testing.T) {
	h := New(3)
	require.NoError(t, h.Set(1, boards[1]))
	h.Clear()
	assert.Equal(t, []string{blank, blank, blank}, h.Slots())
}

func TestCommit_FillsAfterResolvedPrefix(t *testing.T) {
	h := New(3)
	r := mapResolver{}

	slot, err := h.Commit(r, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	// A partial drawing in slot 1 is overwritten.
	require.NoError(t, h.Set(1, layout.FromRows("22......", "........", "........", "........", "........", "........", "........", "........")))
	slot, err = h.Commit(r, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.Equal(t, []uint32{100, 101}, h.Observed(r))
}

func TestCommit_ShiftsWhenFull(t *testing.T) {
	h := New(3)
	r := mapResolver{}
	for _, idx := range []uint32{100, 101, 102} {
		_, err := h.Commit(r, idx)
		require.NoError(t, err)
	}

	slot, err := h.Commit(r, 103)
	require.NoError(t, err)
	assert.Equal(t, 2, slot)
	assert.Equal(t, []uint32{101, 102, 103}, h.Observed(r))
}

func TestCommit_UnknownIndex(t *testing.T) {
	h := New(3)
	_, err := h.Commit(mapResolver{}, 7)
	assert.True(t, errors.Is(err, ErrUnknownIndex))
	assert.Empty(t, h.Observed(mapResolver{}))
}

func TestConnect(t *testing.T) {
	h := New(2)
	ok, err := h.Connect(1, layout.Point{X: 0, Y: 0}, layout.Point{X: 1, Y: 0})
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := h.Slot(1)
	require.NoError(t, err)
	assert.Equal(t, layout.Cell(2), l.At(0, 0))

	_, err = h.Connect(2, layout.Point{}, layout.Point{X: 1})
	assert.True(t, errors.Is(err, ErrSlotOutOfRange))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layout

import (
	"iter"
)

// IndexTable is the immutable bidirectional mapping between layouts and
// their canonical indices.
//
// The table stores one packed placement code per index plus a dense
// code→index array, which is far smaller than keeping 604584 encodings and
// a string map resident.
//
// Thread Safety: Safe for concurrent use; never mutated after construction.
type IndexTable struct {
	codes  []uint32
	byCode []int32
}

// Enumerate builds the index table for every valid layout.
//
// Description:
//
//	Tries every combination of one placement per squid length, with the
//	length-2 squid in the outer loop, length 3 in the middle and length 4
//	innermost. Placements are ordered by anchor y, then anchor x, then
//	direction (along y before along x). A trial is accepted when all three
//	squids fit on the grid and together occupy exactly nine cells. Accepted
//	layouts are numbered in the order they are produced.
//
// Outputs:
//
//	*IndexTable - Table with LayoutCount entries.
//
// Thread Safety: Pure; safe to call concurrently.
func Enumerate() *IndexTable {
	t := newIndexTable(LayoutCount)
	for o2 := 0; o2 < placementCount; o2++ {
		for o3 := 0; o3 < placementCount; o3++ {
			for o4 := 0; o4 < placementCount; o4++ {
				if _, ok := build(o2, o3, o4); !ok {
					continue
				}
				t.add(pack(o2, o3, o4))
			}
		}
	}
	return t
}

func newIndexTable(capacity int) *IndexTable {
	byCode := make([]int32, placementCount*placementCount*placementCount)
	for i := range byCode {
		byCode[i] = -1
	}
	return &IndexTable{
		codes:  make([]uint32, 0, capacity),
		byCode: byCode,
	}
}

func (t *IndexTable) add(code uint32) {
	t.byCode[code] = int32(len(t.codes))
	t.codes = append(t.codes, code)
}

// Len returns the number of layouts in the table.
func (t *IndexTable) Len() int {
	return len(t.codes)
}

// IndexOf returns the canonical index of a grid. ok is false when the grid
// is not a valid layout.
func (t *IndexTable) IndexOf(l Layout) (index uint32, ok bool) {
	code, valid := l.code()
	if !valid {
		return 0, false
	}
	i := t.byCode[code]
	if i < 0 {
		return 0, false
	}
	return uint32(i), true
}

// Index looks up an encoding. Malformed or invalid encodings are reported
// as not found rather than as errors: a half-drawn grid simply has no index.
func (t *IndexTable) Index(encoding string) (index uint32, ok bool) {
	l, err := Parse(encoding)
	if err != nil {
		return 0, false
	}
	return t.IndexOf(l)
}

// Layout returns the grid for an index.
func (t *IndexTable) Layout(index uint32) (Layout, bool) {
	if int64(index) >= int64(len(t.codes)) {
		return Layout{}, false
	}
	l, _ := build(unpack(t.codes[index]))
	return l, true
}

// Encoding returns the encoding for an index.
func (t *IndexTable) Encoding(index uint32) (string, bool) {
	l, ok := t.Layout(index)
	if !ok {
		return "", false
	}
	return l.Encode(), true
}

// All yields every index and its layout in canonical order.
func (t *IndexTable) All() iter.Seq2[uint32, Layout] {
	return func(yield func(uint32, Layout) bool) {
		for i, code := range t.codes {
			l, _ := build(unpack(code))
			if !yield(uint32(i), l) {
				return
			}
		}
	}
}

// Encodings returns every encoding in canonical order, so that
// Encodings()[i] is the encoding of index i.
func (t *IndexTable) Encodings() []string {
	out := make([]string, 0, len(t.codes))
	for _, l := range t.All() {
		out = append(out, l.Encode())
	}
	return out
}

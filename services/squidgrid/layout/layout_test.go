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
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sharedTable     *IndexTable
	sharedTableOnce sync.Once
)

// enumerated returns one table shared by every test in the package.
func enumerated(t *testing.T) *IndexTable {
	t.Helper()
	sharedTableOnce.Do(func() {
		sharedTable = Enumerate()
	})
	return sharedTable
}

var (
	firstLayout = FromRows(
		"234.....",
		"234.....",
		".34.....",
		"..4.....",
		"........",
		"........",
		"........",
		"........",
	)
	cornerLayout = FromRows(
		"22......",
		"333.....",
		"4444....",
		"........",
		"........",
		"........",
		"........",
		"........",
	)
	middleLayout = FromRows(
		"........",
		"..4.....",
		"..4.....",
		"..4..2..",
		".34..2..",
		".3......",
		".3......",
		"........",
	)
	lastLayout = FromRows(
		"........",
		"........",
		"........",
		"........",
		"........",
		"........",
		"....4444",
		"...33322",
	)
)

func TestEnumerate_Count(t *testing.T) {
	table := enumerated(t)
	assert.Equal(t, LayoutCount, table.Len())
}

func TestEnumerate_KnownIndices(t *testing.T) {
	table := enumerated(t)

	tests := []struct {
		name     string
		encoding string
		index    uint32
	}{
		{"first", firstLayout, 0},
		{"corner", cornerLayout, 6699},
		{"middle", middleLayout, 300000},
		{"last", lastLayout, LayoutCount - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := table.Index(tt.encoding)
			require.True(t, ok)
			assert.Equal(t, tt.index, idx)

			enc, ok := table.Encoding(tt.index)
			require.True(t, ok)
			assert.Equal(t, tt.encoding, enc)
		})
	}
}

func TestEnumerate_Deterministic(t *testing.T) {
	a := enumerated(t)
	b := Enumerate()
	require.Equal(t, a.Len(), b.Len())
	assert.Equal(t, a.codes, b.codes)
}

func TestEnumerate_EveryLayoutValid(t *testing.T) {
	table := enumerated(t)

	for i, l := range table.All() {
		if l.Occupied() != OccupiedCells {
			t.Fatalf("layout %d has %d occupied cells", i, l.Occupied())
		}
		for _, length := range Lengths {
			if got := len(l.Cells(length)); got != length {
				t.Fatalf("layout %d has %d cells of squid %d", i, got, length)
			}
		}
		if err := l.Validate(); err != nil {
			t.Fatalf("layout %d: %v", i, err)
		}
	}
}

func TestIndexTable_RoundTrip(t *testing.T) {
	table := enumerated(t)

	// Every 997th index keeps the test fast while still covering the range.
	for i := uint32(0); i < uint32(table.Len()); i += 997 {
		enc, ok := table.Encoding(i)
		require.True(t, ok)
		back, ok := table.Index(enc)
		require.True(t, ok)
		require.Equal(t, i, back)

		again, ok := table.Encoding(back)
		require.True(t, ok)
		require.Equal(t, enc, again)
	}
}

func TestIndexTable_UnknownEncodings(t *testing.T) {
	table := enumerated(t)

	tests := []struct {
		name     string
		encoding string
	}{
		{"empty string", ""},
		{"blank grid", FromRows("........", "........", "........", "........", "........", "........", "........", "........")},
		{"bad character", "x" + cornerLayout[1:]},
		{"missing squid", FromRows("22......", "333.....", "........", "........", "........", "........", "........", "........")},
		{"bent squid", FromRows("22......", "33......", "3.......", "4444....", "........", "........", "........", "........")},
		{"wrapped squid", FromRows(".......2", "2.......", "333.....", "4444....", "........", "........", "........", "........")},
		{"too short", cornerLayout[:63]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := table.Index(tt.encoding)
			assert.False(t, ok)
		})
	}
}

func TestIndexTable_OutOfRange(t *testing.T) {
	table := enumerated(t)

	_, ok := table.Encoding(LayoutCount)
	assert.False(t, ok)
	_, ok = table.Layout(^uint32(0))
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	l, err := Parse(cornerLayout)
	require.NoError(t, err)
	assert.Equal(t, Cell(2), l.At(1, 0))
	assert.Equal(t, Cell(3), l.At(2, 1))
	assert.Equal(t, Cell(4), l.At(3, 2))
	assert.Equal(t, Empty, l.At(4, 2))
	assert.Equal(t, cornerLayout, l.Encode())

	_, err = Parse("short")
	assert.True(t, errors.Is(err, ErrInvalidEncoding))

	_, err = Parse("5" + cornerLayout[1:])
	assert.True(t, errors.Is(err, ErrInvalidEncoding))
}

func TestPlacements(t *testing.T) {
	l := MustParse(middleLayout)
	ps, err := l.Placements()
	require.NoError(t, err)

	assert.Equal(t, Placement{X: 5, Y: 3, AlongX: false}, ps[0])
	assert.Equal(t, Placement{X: 1, Y: 4, AlongX: false}, ps[1])
	assert.Equal(t, Placement{X: 2, Y: 1, AlongX: false}, ps[2])

	rebuilt, ok := Build(ps[0], ps[1], ps[2])
	require.True(t, ok)
	assert.Equal(t, l, rebuilt)
}

func TestBuild_RejectsOverlapAndOverflow(t *testing.T) {
	_, ok := Build(Placement{X: 0, Y: 0}, Placement{X: 0, Y: 1}, Placement{X: 3, Y: 3})
	assert.False(t, ok, "overlapping squids")

	_, ok = Build(Placement{X: 0, Y: 0}, Placement{X: 1, Y: 0}, Placement{X: 5, Y: 5, AlongX: true})
	assert.False(t, ok, "squid leaving the grid")
}

func TestEndToEnd_EncodeLookupDecode(t *testing.T) {
	table := enumerated(t)

	original := MustParse(middleLayout)
	idx, ok := table.IndexOf(original)
	require.True(t, ok)

	decoded, ok := table.Layout(idx)
	require.True(t, ok)
	assert.Equal(t, original, decoded)
	assert.Equal(t, middleLayout, decoded.Encode())
}

func TestMarshalBinary_RoundTrip(t *testing.T) {
	table := enumerated(t)

	blob, err := table.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, blob, 8+3*LayoutCount)

	decoded, err := UnmarshalIndexTable(blob)
	require.NoError(t, err)
	assert.Equal(t, table.codes, decoded.codes)

	idx, ok := decoded.Index(cornerLayout)
	require.True(t, ok)
	assert.Equal(t, uint32(6699), idx)
}

func TestUnmarshalIndexTable_Corrupt(t *testing.T) {
	table := enumerated(t)
	blob, err := table.MarshalBinary()
	require.NoError(t, err)

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte("XXXX"), blob[4:]...)
		_, err := UnmarshalIndexTable(bad)
		assert.True(t, errors.Is(err, ErrCorruptTable))
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := UnmarshalIndexTable(blob[:len(blob)-1])
		assert.True(t, errors.Is(err, ErrCorruptTable))
	})

	t.Run("swapped entries", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		copy(bad[8:11], blob[11:14])
		copy(bad[11:14], blob[8:11])
		_, err := UnmarshalIndexTable(bad)
		assert.True(t, errors.Is(err, ErrCorruptTable))
	})

	t.Run("invalid layout", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[8], bad[9] = 0, 0 // squids 2 and 3 on the same anchor
		_, err := UnmarshalIndexTable(bad)
		assert.True(t, errors.Is(err, ErrCorruptTable))
	})
}

// memoryCache is a BlobCache backed by a map that counts compute calls.
type memoryCache struct {
	entries  map[string][]byte
	computes int
}

func (c *memoryCache) Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if blob, ok := c.entries[key]; ok {
		return blob, nil
	}
	c.computes++
	blob, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.entries[key] = blob
	return blob, nil
}

func (c *memoryCache) Put(_ context.Context, key string, blob []byte) error {
	c.entries[key] = blob
	return nil
}

func TestLoad_CachesTable(t *testing.T) {
	cache := &memoryCache{entries: map[string][]byte{}}

	first, err := Load(context.Background(), cache, nil)
	require.NoError(t, err)
	assert.Equal(t, LayoutCount, first.Len())
	assert.Equal(t, 1, cache.computes)

	second, err := Load(context.Background(), cache, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.computes)
	assert.Equal(t, first.codes, second.codes)
}

func TestLoad_RebuildsCorruptEntry(t *testing.T) {
	cache := &memoryCache{entries: map[string][]byte{CacheKey: []byte("garbage")}}

	table, err := Load(context.Background(), cache, nil)
	require.NoError(t, err)
	assert.Equal(t, LayoutCount, table.Len())

	_, err = UnmarshalIndexTable(cache.entries[CacheKey])
	assert.NoError(t, err, "corrupt entry should be overwritten")
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, nil, nil)
	assert.Error(t, err)
}

func TestDraft_Connect(t *testing.T) {
	d, err := NewDraft("")
	require.NoError(t, err)

	assert.True(t, d.Connect(Point{0, 0}, Point{1, 0}))
	assert.True(t, d.Connect(Point{2, 1}, Point{0, 1}))
	assert.True(t, d.Connect(Point{0, 2}, Point{0, 5}))
	assert.Equal(t, FromRows(
		"22......",
		"333.....",
		"4.......",
		"4.......",
		"4.......",
		"4.......",
		"........",
		"........",
	), d.Encode())
	assert.NoError(t, d.Validate())

	// Redrawing a squid moves it.
	assert.True(t, d.Connect(Point{3, 2}, Point{0, 2}))
	assert.Equal(t, FromRows(
		"22......",
		"333.....",
		"4444....",
		"........",
		"........",
		"........",
		"........",
		"........",
	), d.Encode())
}

func TestDraft_ConnectErasesBrokenSquid(t *testing.T) {
	d, err := NewDraft(cornerLayout)
	require.NoError(t, err)

	// A vertical 2 through the 3 breaks it, so the 3 disappears.
	assert.True(t, d.Connect(Point{1, 1}, Point{1, 2}))
	assert.Empty(t, d.Cells(3))
	assert.Len(t, d.Cells(2), 2)
	assert.Equal(t, Cell(2), d.At(1, 1))
}

func TestDraft_ConnectIgnoresUnrelatedCells(t *testing.T) {
	d, err := NewDraft("")
	require.NoError(t, err)

	assert.False(t, d.Connect(Point{0, 0}, Point{5, 0}))
	assert.False(t, d.Connect(Point{0, 0}, Point{1, 1}))
	assert.False(t, d.Connect(Point{0, 0}, Point{9, 0}))
	assert.Zero(t, d.Occupied())
}

func TestRandom_ProducesValidLayouts(t *testing.T) {
	table := enumerated(t)
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		l := Random(r)
		_, ok := table.IndexOf(l)
		require.True(t, ok, "random layout %q not in table", l.Encode())
	}
}

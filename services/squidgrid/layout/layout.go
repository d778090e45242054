// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout enumerates and indexes hidden squid layouts.
//
// A layout is an 8×8 grid holding exactly one straight squid of each length
// 2, 3 and 4, fully inside the grid and pairwise disjoint. Every valid layout
// has a canonical index fixed by the enumeration order in Enumerate; that
// order matches the precomputed RNG-stream tables bit for bit, so it must
// never change.
//
// The textual encoding of a layout is 64 characters in row-major order, "."
// for an empty cell and the squid length for an occupied one. It is the join
// key between a drawn grid and its index.
package layout

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Size is the width and height of the grid.
	Size = 8

	// CellCount is the number of cells in a layout.
	CellCount = Size * Size

	// OccupiedCells is the number of non-empty cells in every valid layout.
	OccupiedCells = 2 + 3 + 4

	// LayoutCount is the number of valid layouts for the 8×8 grid with
	// squids of length 2, 3 and 4.
	LayoutCount = 604584
)

// Lengths lists the squid lengths in placement order.
var Lengths = [3]int{2, 3, 4}

var (
	// ErrInvalidEncoding indicates a string is not a 64-character layout encoding.
	ErrInvalidEncoding = errors.New("invalid layout encoding")

	// ErrInvalidLayout indicates a grid does not hold exactly one straight
	// squid of each length.
	ErrInvalidLayout = errors.New("invalid layout")
)

// Cell is the content of one grid cell: Empty or a squid length.
type Cell uint8

// Empty marks an unoccupied cell.
const Empty Cell = 0

// Char returns the encoding character for the cell.
func (c Cell) Char() byte {
	if c == Empty {
		return '.'
	}
	return '0' + byte(c)
}

// Point is a grid coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// In reports whether the point lies on the grid.
func (p Point) In() bool {
	return p.X >= 0 && p.X < Size && p.Y >= 0 && p.Y < Size
}

// Index returns the cell index y*8+x.
func (p Point) Index() int {
	return p.Y*Size + p.X
}

// PointAt converts a cell index back to a coordinate.
func PointAt(index int) Point {
	return Point{X: index % Size, Y: index / Size}
}

// Layout is a grid of cells indexed by y*8+x.
type Layout [CellCount]Cell

// At returns the cell at (x, y).
func (l *Layout) At(x, y int) Cell {
	return l[y*Size+x]
}

// Occupied returns the number of non-empty cells.
func (l *Layout) Occupied() int {
	n := 0
	for _, c := range l {
		if c != Empty {
			n++
		}
	}
	return n
}

// Encode returns the 64-character encoding of the layout.
func (l *Layout) Encode() string {
	var b [CellCount]byte
	for i, c := range l {
		b[i] = c.Char()
	}
	return string(b[:])
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return l.Encode()
}

// Rows returns the encoding split into eight 8-character rows.
func (l *Layout) Rows() []string {
	enc := l.Encode()
	rows := make([]string, Size)
	for y := range rows {
		rows[y] = enc[y*Size : (y+1)*Size]
	}
	return rows
}

// Cells returns the indices of the cells holding the given squid length,
// in row-major order.
func (l *Layout) Cells(length int) []int {
	var cells []int
	for i, c := range l {
		if int(c) == length {
			cells = append(cells, i)
		}
	}
	return cells
}

// Parse decodes a 64-character encoding into a grid.
//
// Parse only checks the alphabet and the length; it accepts partially drawn
// grids. Use Validate or an IndexTable lookup to check the squid rules.
func Parse(encoding string) (Layout, error) {
	var l Layout
	if len(encoding) != CellCount {
		return l, fmt.Errorf("%w: length %d, want %d", ErrInvalidEncoding, len(encoding), CellCount)
	}
	for i := 0; i < CellCount; i++ {
		switch ch := encoding[i]; ch {
		case '.':
			l[i] = Empty
		case '2', '3', '4':
			l[i] = Cell(ch - '0')
		default:
			return l, fmt.Errorf("%w: unexpected %q at cell %d", ErrInvalidEncoding, ch, i)
		}
	}
	return l, nil
}

// MustParse is Parse for encodings known to be well formed. It panics on error.
func MustParse(encoding string) Layout {
	l, err := Parse(encoding)
	if err != nil {
		panic(err)
	}
	return l
}

// FromRows builds an encoding from eight row strings. Convenient in tests and
// for callers that render a grid row by row.
func FromRows(rows ...string) string {
	return strings.Join(rows, "")
}

// Validate checks that the grid holds exactly one straight, in-bounds squid
// of each length and nothing else.
func (l *Layout) Validate() error {
	if _, ok := l.code(); !ok {
		return ErrInvalidLayout
	}
	return nil
}

// Placement describes where a squid sits: its top-left cell and whether it
// extends along x (true) or along y (false).
type Placement struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	AlongX bool `json:"along_x"`
}

// placementCount is the number of distinct placements per squid:
// 64 anchors times 2 directions.
const placementCount = CellCount * 2

// ordinal returns the placement's position in enumeration order.
func (p Placement) ordinal() int {
	o := (p.Y*Size + p.X) * 2
	if p.AlongX {
		o++
	}
	return o
}

func placementAt(ordinal int) Placement {
	anchor := ordinal / 2
	return Placement{X: anchor % Size, Y: anchor / Size, AlongX: ordinal%2 == 1}
}

// Covers returns the cells a squid of the given length covers at this
// placement. ok is false when the squid would leave the grid.
func (p Placement) Covers(length int) (cells []int, ok bool) {
	cells = make([]int, 0, length)
	for i := 0; i < length; i++ {
		x, y := p.X, p.Y
		if p.AlongX {
			x += i
		} else {
			y += i
		}
		if x >= Size || y >= Size {
			return nil, false
		}
		cells = append(cells, y*Size+x)
	}
	return cells, true
}

// place writes a squid into the grid. It returns false when the squid would
// leave the grid; nothing is written in that case.
func (l *Layout) place(p Placement, length int) bool {
	cells, ok := p.Covers(length)
	if !ok {
		return false
	}
	for _, c := range cells {
		l[c] = Cell(length)
	}
	return true
}

// Placements returns the placement of each squid, ordered by length.
func (l *Layout) Placements() ([3]Placement, error) {
	var out [3]Placement
	code, ok := l.code()
	if !ok {
		return out, ErrInvalidLayout
	}
	p2, p3, p4 := unpack(code)
	return [3]Placement{placementAt(p2), placementAt(p3), placementAt(p4)}, nil
}

// Build places the three squids and reports whether the result is a valid
// layout.
func Build(p2, p3, p4 Placement) (Layout, bool) {
	return build(p2.ordinal(), p3.ordinal(), p4.ordinal())
}

func build(o2, o3, o4 int) (Layout, bool) {
	var l Layout
	if !l.place(placementAt(o2), 2) || !l.place(placementAt(o3), 3) || !l.place(placementAt(o4), 4) {
		return l, false
	}
	// Any overlap loses at least one occupied cell.
	return l, l.Occupied() == OccupiedCells
}

// pack combines three placement ordinals into one code. Codes increase in
// enumeration order.
func pack(o2, o3, o4 int) uint32 {
	return uint32(o2)<<14 | uint32(o3)<<7 | uint32(o4)
}

func unpack(code uint32) (o2, o3, o4 int) {
	return int(code >> 14 & 0x7f), int(code >> 7 & 0x7f), int(code & 0x7f)
}

// code derives the packed placement code of a grid and verifies that
// rebuilding from it reproduces the grid exactly.
func (l *Layout) code() (uint32, bool) {
	var ords [3]int
	for i, length := range Lengths {
		cells := l.Cells(length)
		if len(cells) != length {
			return 0, false
		}
		anchor := cells[0]
		p := Placement{X: anchor % Size, Y: anchor / Size, AlongX: cells[1] == anchor+1}
		ords[i] = p.ordinal()
	}
	rebuilt, ok := build(ords[0], ords[1], ords[2])
	if !ok || rebuilt != *l {
		return 0, false
	}
	return pack(ords[0], ords[1], ords[2]), true
}

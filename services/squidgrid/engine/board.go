// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/AleutianAI/squidgrid/services/squidgrid/layout"
)

// Mark is what the player knows about one cell of the board in play.
type Mark uint8

const (
	Unknown Mark = iota
	Hit
	Miss
)

// String implements fmt.Stringer.
func (m Mark) String() string {
	switch m {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	default:
		return "unknown"
	}
}

// UnknownKills marks a kill count the player has not entered.
const UnknownKills = -1

// cursorHome is where the player's cursor starts on a fresh board.
var cursorHome = layout.Point{X: 0, Y: 7}

// Board is the board in play.
type Board struct {
	Marks  [layout.CellCount]Mark `json:"marks"`
	Kills  int                    `json:"kills"`
	Cursor layout.Point           `json:"cursor"`
}

// NewBoard returns a fresh board with zero kills.
func NewBoard() *Board {
	return &Board{Cursor: cursorHome}
}

// Reset clears every mark and returns the cursor home.
func (b *Board) Reset() {
	*b = Board{Cursor: cursorHome}
}

// Toggle cycles a cell the way a click does.
//
// Description:
//
//	An unknown cell becomes a hit when asHit is set and a miss otherwise;
//	a miss becomes a hit; a hit becomes unknown. When the hit count changes
//	and the kill count is known, nine hits imply three kills, and dropping
//	from nine to eight hits implies two. The cursor moves to p.
func (b *Board) Toggle(p layout.Point, asHit bool) {
	if !p.In() {
		return
	}
	i := p.Index()
	old := b.Marks[i]
	var next Mark
	switch old {
	case Miss:
		next = Hit
	case Hit:
		next = Unknown
	default:
		if asHit {
			next = Hit
		} else {
			next = Miss
		}
	}
	b.Marks[i] = next

	if (next == Hit || old == Hit) && b.Kills != UnknownKills {
		hits, _ := b.Stats()
		switch {
		case len(hits) == layout.OccupiedCells:
			b.Kills = 3
		case len(hits) == layout.OccupiedCells-1 && old == Hit:
			b.Kills = 2
		}
	}
	b.Cursor = p
}

// Reveal marks a cell from a known hidden layout, as in practice mode, and
// recounts kills from fully hit squids. Already marked cells are left alone.
func (b *Board) Reveal(p layout.Point, hidden layout.Layout) {
	if !p.In() || b.Marks[p.Index()] != Unknown {
		return
	}
	if hidden[p.Index()] != layout.Empty {
		b.Marks[p.Index()] = Hit
	} else {
		b.Marks[p.Index()] = Miss
	}
	kills := 0
	for _, length := range layout.Lengths {
		killed := true
		for _, c := range hidden.Cells(length) {
			if b.Marks[c] != Hit {
				killed = false
				break
			}
		}
		if killed {
			kills++
		}
	}
	b.Kills = kills
	b.Cursor = p
}

// SetKills sets the kill count. Values outside 0..3 mean unknown.
func (b *Board) SetKills(n int) {
	if n < 0 || n > 3 {
		n = UnknownKills
	}
	b.Kills = n
}

// Stats returns the hit and miss cell indices in row-major order.
func (b *Board) Stats() (hits, misses []int) {
	hits, misses = []int{}, []int{}
	for i, m := range b.Marks {
		switch m {
		case Hit:
			hits = append(hits, i)
		case Miss:
			misses = append(misses, i)
		}
	}
	return hits, misses
}

// Request builds an engine request from the board. Sequence fields are left
// for the caller.
func (b *Board) Request() Request {
	hits, misses := b.Stats()
	return Request{Hits: hits, Misses: misses, Kills: b.Kills}
}

// cursorPenalty is the fraction of probability lost per step of L1 distance
// from the cursor when picking a cell to suggest.
const cursorPenalty = 0.03

// Recommend picks the unmarked cell to suggest next: the highest hit
// probability after a small penalty for distance from the cursor. ok is
// false when no unmarked cell has a positive adjusted probability.
func Recommend(res Result, b *Board) (best layout.Point, ok bool) {
	highest := -1.0
	for i, p := range res.Cells {
		if b.Marks[i] != Unknown {
			continue
		}
		pt := layout.PointAt(i)
		dist := abs(pt.X-b.Cursor.X) + abs(pt.Y-b.Cursor.Y)
		adjusted := p * (1 - cursorPenalty*float64(dist))
		if adjusted > highest {
			highest = adjusted
			best = pt
		}
	}
	return best, highest > 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// UndoDepth bounds how many earlier boards an UndoStack remembers.
const UndoDepth = 128

// UndoStack remembers earlier states of the board in play, newest last.
// The oldest state is dropped once UndoDepth is reached.
type UndoStack struct {
	states []Board
}

// Push records b.
func (u *UndoStack) Push(b Board) {
	if len(u.states) == UndoDepth {
		copy(u.states, u.states[1:])
		u.states = u.states[:len(u.states)-1]
	}
	u.states = append(u.states, b)
}

// Pop removes and returns the newest state. ok is false when empty.
func (u *UndoStack) Pop() (b Board, ok bool) {
	n := len(u.states)
	if n == 0 {
		return Board{}, false
	}
	b = u.states[n-1]
	u.states = u.states[:n-1]
	return b, true
}

// Len returns the number of remembered states.
func (u *UndoStack) Len() int { return len(u.states) }

// Clear forgets every state.
func (u *UndoStack) Clear() { u.states = u.states[:0] }

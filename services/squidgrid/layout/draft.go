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
	"math/rand/v2"
)

// Draft is a grid being drawn by hand. Unlike Layout it may hold a partial
// or empty arrangement; it only becomes indexable once all three squids are
// in place.
type Draft struct {
	Layout
}

// NewDraft starts a draft from an encoding. An empty string starts a blank
// grid.
func NewDraft(encoding string) (*Draft, error) {
	if encoding == "" {
		return &Draft{}, nil
	}
	l, err := Parse(encoding)
	if err != nil {
		return nil, err
	}
	return &Draft{Layout: l}, nil
}

// Clear empties the draft.
func (d *Draft) Clear() {
	d.Layout = Layout{}
}

var connectDirections = [4]Point{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

// Connect draws the squid whose two ends are from and to.
//
// Description:
//
//	When the two cells lie on one row or column at distance length-1 for
//	some squid length, that squid is erased wherever it was and redrawn
//	between them. Afterwards any squid whose cell count is wrong, because
//	the new squid overwrote part of it, is erased entirely.
//
// Outputs:
//
//	bool - True when a squid was drawn.
func (d *Draft) Connect(from, to Point) bool {
	if !from.In() || !to.In() {
		return false
	}
	changed := false
	for _, length := range Lengths {
		for _, dir := range connectDirections {
			if from.X != to.X+dir.X*(length-1) || from.Y != to.Y+dir.Y*(length-1) {
				continue
			}
			d.erase(length)
			for i := 0; i < length; i++ {
				d.Layout[(to.Y+i*dir.Y)*Size+to.X+i*dir.X] = Cell(length)
			}
			changed = true
		}
	}
	for _, length := range Lengths {
		if len(d.Cells(length)) != length {
			d.erase(length)
		}
	}
	return changed
}

func (d *Draft) erase(length int) {
	for i, c := range d.Layout {
		if int(c) == length {
			d.Layout[i] = Empty
		}
	}
}

// Random draws a practice layout by placing each squid, shortest first, at a
// uniformly random anchor and direction until it fits without overlap.
func Random(r *rand.Rand) Layout {
	var l Layout
	for _, length := range Lengths {
		for {
			p := Placement{X: r.IntN(Size), Y: r.IntN(Size), AlongX: r.IntN(2) == 1}
			cells, ok := p.Covers(length)
			if !ok || !free(&l, cells) {
				continue
			}
			for _, c := range cells {
				l[c] = Cell(length)
			}
			break
		}
	}
	return l
}

func free(l *Layout, cells []int) bool {
	for _, c := range cells {
		if l[c] != Empty {
			return false
		}
	}
	return true
}

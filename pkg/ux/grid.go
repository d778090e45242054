// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Aleutian components.
//

package ux

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var cellStyles = map[byte]lipgloss.Style{
	'.': Styles.Muted,
	'2': lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	'3': lipgloss.NewStyle().Bold(true).Foreground(ColorWarning),
	'4': lipgloss.NewStyle().Bold(true).Foreground(ColorError),
}

// RenderGrid renders grid rows, one character per cell, with cells
// separated by a space. Styled output colors each squid length and boxes
// the grid.
func RenderGrid(rows []string, plain bool) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j := 0; j < len(row); j++ {
			cell := string(row[j])
			if style, ok := cellStyles[row[j]]; ok && !plain {
				cell = style.Render(cell)
			}
			cells[j] = cell
		}
		lines[i] = strings.Join(cells, " ")
	}
	grid := strings.Join(lines, "\n")
	if plain {
		return grid
	}
	return Styles.Box.Render(grid)
}

// Grid prints rendered grid rows under a title.
func (p *Printer) Grid(title string, rows []string) {
	p.Box(title, RenderGrid(rows, p.plain))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streamtable loads the precomputed RNG-stream tables: the sequence
// of layout indices the game's generator produces, one 32-bit word per
// generated board.
package streamtable

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Variant selects which precomputed table to use.
type Variant string

const (
	// Small covers roughly the first five million boards.
	Small Variant = "small"

	// Big covers roughly the first twenty-five million boards.
	Big Variant = "big"
)

var (
	// ErrUnknownVariant indicates a variant name other than small or big.
	ErrUnknownVariant = errors.New("unknown stream table variant")

	// ErrMisalignedTable indicates the artifact length is not a multiple of
	// four bytes.
	ErrMisalignedTable = errors.New("stream table length is not a multiple of 4")
)

// ParseVariant converts a name into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case Small, Big:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// ObjectName is the artifact's file name on the server.
func (v Variant) ObjectName() string {
	if v == Big {
		return "board_table_25M.bin"
	}
	return "board_table_5M.bin"
}

// CacheKey is the artifact cache key for the variant.
func (v Variant) CacheKey() string {
	return "stream-table/" + string(v)
}

// DecodeWords reinterprets data as little-endian uint32 words.
func DecodeWords(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMisalignedTable, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words, nil
}

// EncodeWords is the inverse of DecodeWords.
func EncodeWords(words []uint32) []byte {
	out := make([]byte, 0, 4*len(words))
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

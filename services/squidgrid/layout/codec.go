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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CacheKey is the artifact cache key for the serialized index table.
const CacheKey = "board-indices/v1"

var tableMagic = []byte("SQIT")

// ErrCorruptTable indicates a serialized index table could not be decoded.
var ErrCorruptTable = errors.New("corrupt index table")

// MarshalBinary serializes the table as a magic header, an entry count and
// three placement ordinals per entry.
func (t *IndexTable) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(tableMagic)+4+3*len(t.codes))
	buf = append(buf, tableMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.codes)))
	for _, code := range t.codes {
		o2, o3, o4 := unpack(code)
		buf = append(buf, byte(o2), byte(o3), byte(o4))
	}
	return buf, nil
}

// UnmarshalIndexTable decodes a table written by MarshalBinary.
//
// Every entry must describe a valid layout and entries must appear in
// strictly increasing enumeration order, which together guarantee the
// decoded indices are the canonical ones.
func UnmarshalIndexTable(data []byte) (*IndexTable, error) {
	if len(data) < len(tableMagic)+4 || !bytes.Equal(data[:len(tableMagic)], tableMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptTable)
	}
	n := int(binary.LittleEndian.Uint32(data[len(tableMagic):]))
	body := data[len(tableMagic)+4:]
	if len(body) != 3*n {
		return nil, fmt.Errorf("%w: %d entries need %d bytes, got %d", ErrCorruptTable, n, 3*n, len(body))
	}

	t := newIndexTable(n)
	var prev int64 = -1
	for i := 0; i < n; i++ {
		o2, o3, o4 := int(body[3*i]), int(body[3*i+1]), int(body[3*i+2])
		if o2 >= placementCount || o3 >= placementCount || o4 >= placementCount {
			return nil, fmt.Errorf("%w: entry %d out of range", ErrCorruptTable, i)
		}
		if _, ok := build(o2, o3, o4); !ok {
			return nil, fmt.Errorf("%w: entry %d is not a valid layout", ErrCorruptTable, i)
		}
		code := pack(o2, o3, o4)
		if int64(code) <= prev {
			return nil, fmt.Errorf("%w: entry %d out of order", ErrCorruptTable, i)
		}
		prev = int64(code)
		t.add(code)
	}
	return t, nil
}

// BlobCache is the subset of the artifact cache the table loader needs.
type BlobCache interface {
	Fetch(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}

// Load returns the index table, reading it from the cache or enumerating and
// caching it on a miss.
//
// Description:
//
//	A cached blob that fails to decode is treated like a miss: the table is
//	enumerated again and the entry overwritten. Cache failures never make
//	Load fail since enumeration is always possible.
//
// Inputs:
//
//	ctx - Context for cache operations.
//	cache - Artifact cache. May be nil, in which case the table is enumerated.
//	logger - Logger for cache diagnostics. May be nil.
//
// Outputs:
//
//	*IndexTable - The table.
//	error - Non-nil only if ctx is already done.
func Load(ctx context.Context, cache BlobCache, logger *slog.Logger) (*IndexTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		return Enumerate(), nil
	}

	var built *IndexTable
	blob, err := cache.Fetch(ctx, CacheKey, func(context.Context) ([]byte, error) {
		start := time.Now()
		built = Enumerate()
		logger.Info("enumerated layouts",
			slog.Int("count", built.Len()),
			slog.Duration("elapsed", time.Since(start)))
		return built.MarshalBinary()
	})
	if built != nil {
		return built, nil
	}
	if err == nil {
		t, decodeErr := UnmarshalIndexTable(blob)
		if decodeErr == nil {
			return t, nil
		}
		logger.Warn("cached index table unreadable, rebuilding", slog.String("error", decodeErr.Error()))
	} else {
		logger.Warn("index table cache failed, rebuilding", slog.String("error", err.Error()))
	}

	t := Enumerate()
	if blob, err := t.MarshalBinary(); err == nil {
		if err := cache.Put(ctx, CacheKey, blob); err != nil {
			logger.Warn("failed to cache index table", slog.String("error", err.Error()))
		}
	}
	return t, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact persists large derived artifacts (the layout index table
// and the RNG-stream tables) in a local key-value store so they are built or
// downloaded once and reused across sessions.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	sgbadger "github.com/AleutianAI/squidgrid/services/squidgrid/storage/badger"
)

// SchemaVersion is the only store layout this build understands.
const SchemaVersion = 1

// DefaultChunkSize is the size of the pieces a blob is split into.
const DefaultChunkSize = 4 << 20

var (
	// ErrNotFound indicates the key has no complete entry.
	ErrNotFound = errors.New("artifact not found")

	// ErrSchemaUnsupported indicates the store was written with a different
	// schema version. There is no migration path.
	ErrSchemaUnsupported = errors.New("artifact store schema unsupported")

	// ErrStoreBlocked indicates another process holds the store open.
	ErrStoreBlocked = errors.New("artifact store blocked by another process")

	// ErrStoreUnavailable indicates the store could not be opened.
	ErrStoreUnavailable = errors.New("artifact store unavailable")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("artifact store closed")
)

// Store is a string-keyed blob store.
type Store interface {
	// Read returns the blob for key, or an error wrapping ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores blob under key, replacing any previous entry.
	Write(ctx context.Context, key string, blob []byte) error
}

var schemaKey = []byte("meta/schema")

// manifest describes a stored blob. It is written after all of its chunks,
// so a present manifest always refers to complete data.
type manifest struct {
	Generation string `json:"generation"`
	Size       int    `json:"size"`
	Chunks     int    `json:"chunks"`
}

func manifestKey(key string) []byte {
	return []byte("blob/" + key + "/manifest")
}

func chunkKey(key, generation string, n int) []byte {
	return []byte("blob/" + key + "/chunk/" + generation + "/" + strconv.Itoa(n))
}

// BadgerStore is a Store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db        *sgbadger.DB
	chunkSize int
	logger    *slog.Logger
}

// StoreOption configures a BadgerStore.
type StoreOption func(*BadgerStore)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) StoreOption {
	return func(s *BadgerStore) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *BadgerStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// OpenBadgerStore opens the store and checks its schema version.
//
// Description:
//
//	Opens the database described by cfg. A fresh database gets the schema
//	version written; an existing one must already carry SchemaVersion.
//
// Inputs:
//
//	ctx - Context for the schema check.
//	cfg - Database configuration.
//	opts - Store options.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close it.
//	error - Wraps ErrStoreBlocked, ErrSchemaUnsupported or ErrStoreUnavailable.
func OpenBadgerStore(ctx context.Context, cfg sgbadger.Config, opts ...StoreOption) (*BadgerStore, error) {
	db, err := sgbadger.Open(cfg)
	if err != nil {
		if errors.Is(err, sgbadger.ErrLocked) {
			return nil, fmt.Errorf("%w: %v", ErrStoreBlocked, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s := &BadgerStore{
		db:        db,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) ensureSchema(ctx context.Context) error {
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(schemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(schemaKey, []byte(strconv.Itoa(SchemaVersion)))
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if v, convErr := strconv.Atoi(string(raw)); convErr != nil || v != SchemaVersion {
			return fmt.Errorf("%w: found %q, want %d", ErrSchemaUnsupported, raw, SchemaVersion)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSchemaUnsupported) {
		return fmt.Errorf("%w: schema check: %v", ErrStoreUnavailable, err)
	}
	return err
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Read returns the blob stored under key.
//
// Description:
//
//	Reads the manifest and every chunk inside one read-only transaction,
//	which is finished before the blob is returned. An entry whose chunks
//	do not add up to the recorded size is reported as not found.
//
// Thread Safety: Safe for concurrent use.
func (s *BadgerStore) Read(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var m manifest
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return fmt.Errorf("%w: unreadable manifest for %s: %v", ErrNotFound, key, err)
		}

		blob = make([]byte, 0, m.Size)
		for n := 0; n < m.Chunks; n++ {
			item, err := txn.Get(chunkKey(key, m.Generation, n))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s missing chunk %d", ErrNotFound, key, n)
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				blob = append(blob, val...)
				return nil
			}); err != nil {
				return err
			}
		}
		if len(blob) != m.Size {
			return fmt.Errorf("%w: %s has %d bytes, manifest says %d", ErrNotFound, key, len(blob), m.Size)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	return blob, nil
}

// Write stores blob under key.
//
// Description:
//
//	Chunks are written under a fresh generation, then the manifest is
//	switched to it and the previous generation is deleted. Each transaction
//	is committed explicitly; when a batch outgrows one transaction it is
//	committed and the remaining chunks continue in a new one. Readers keep
//	seeing the previous entry until the manifest commit.
//
// Thread Safety: Safe for concurrent use. Concurrent writers to one key
// race; the last manifest commit wins.
func (s *BadgerStore) Write(ctx context.Context, key string, blob []byte) error {
	m := manifest{
		Generation: uuid.NewString(),
		Size:       len(blob),
		Chunks:     (len(blob) + s.chunkSize - 1) / s.chunkSize,
	}

	err := s.batched(ctx, m.Chunks, func(txn *badger.Txn, n int) error {
		end := min((n+1)*s.chunkSize, len(blob))
		return txn.Set(chunkKey(key, m.Generation, n), blob[n*s.chunkSize:end])
	})
	if err != nil {
		return s.mapErr(err)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var previous *manifest
	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		if item, err := txn.Get(manifestKey(key)); err == nil {
			var old manifest
			if item.Value(func(val []byte) error { return json.Unmarshal(val, &old) }) == nil {
				previous = &old
			}
		}
		return txn.Set(manifestKey(key), raw)
	})
	if err != nil {
		return s.mapErr(err)
	}

	if previous != nil && previous.Generation != m.Generation {
		s.dropGeneration(ctx, key, *previous)
	}
	return nil
}

// dropGeneration deletes the chunks of a replaced entry. Failures only leak
// space, so they are logged.
func (s *BadgerStore) dropGeneration(ctx context.Context, key string, m manifest) {
	err := s.batched(ctx, m.Chunks, func(txn *badger.Txn, n int) error {
		return txn.Delete(chunkKey(key, m.Generation, n))
	})
	if err != nil {
		s.logger.Warn("failed to drop replaced artifact chunks",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// batched applies op to items 0..count-1, committing and opening a new
// transaction whenever the current one fills up.
func (s *BadgerStore) batched(ctx context.Context, count int, op func(txn *badger.Txn, n int) error) error {
	n := 0
	for n < count {
		start := n
		err := s.db.Update(ctx, func(txn *badger.Txn) error {
			for ; n < count; n++ {
				err := op(txn, n)
				if errors.Is(err, badger.ErrTxnTooBig) && n > start {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) mapErr(err error) error {
	if errors.Is(err, sgbadger.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	return err
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package store persists UPS snapshots in BadgerDB. Keys are ordered by
// capture time so the latest reading and recent history come from a
// single reverse scan, and every entry carries a TTL so old snapshots
// age out without an explicit retention job.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/logging"
	"github.com/nutward/nutward/internal/nut"
)

const snapshotKeyPrefix = "snapshot:"

// ErrNoSnapshots is returned when the store holds no snapshots yet.
var ErrNoSnapshots = errors.New("store: no snapshots")

// SnapshotStore is a BadgerDB-backed snapshot archive.
type SnapshotStore struct {
	db         *badger.DB
	ttl        time.Duration
	gcInterval time.Duration
	log        zerolog.Logger
}

// Open opens (or creates) the store at the configured path.
func Open(cfg config.StoreConfig) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store at %s: %w", cfg.Path, err)
	}
	return &SnapshotStore{
		db:         db,
		ttl:        cfg.TTL,
		gcInterval: cfg.GCInterval,
		log:        logging.With().Str("component", "store").Logger(),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save persists one snapshot, assigning it an ID. The key embeds the
// capture timestamp so lexicographic order is chronological order.
func (s *SnapshotStore) Save(_ context.Context, snap *nut.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d:%s", snapshotKeyPrefix, snap.TakenAt.UnixNano(), snap.ID[:8]))
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Latest returns the most recent snapshot, or ErrNoSnapshots.
func (s *SnapshotStore) Latest(ctx context.Context) (*nut.Snapshot, error) {
	snaps, err := s.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNoSnapshots
	}
	return snaps[0], nil
}

// Recent returns up to limit snapshots, newest first.
func (s *SnapshotStore) Recent(_ context.Context, limit int) ([]*nut.Snapshot, error) {
	if limit <= 0 {
		limit = 1
	}
	snaps := make([]*nut.Snapshot, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(snapshotKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix range.
		seek := append([]byte(snapshotKeyPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(snaps) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var snap nut.Snapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					return fmt.Errorf("unmarshal snapshot: %w", err)
				}
				snaps = append(snaps, &snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// Serve runs value-log garbage collection on a timer until the context
// is cancelled, making the store a supervisable service.
func (s *SnapshotStore) Serve(ctx context.Context) error {
	interval := s.gcInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runGC()
		}
	}
}

func (s *SnapshotStore) String() string { return "store-gc" }

// runGC reclaims value-log space. Badger asks callers to loop until it
// reports nothing was rewritten.
func (s *SnapshotStore) runGC() {
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("Value log GC pass failed")
			return
		}
	}
}

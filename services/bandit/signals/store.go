// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
)

const (
	creativeKeyPrefix = "creative/"
	snapKeyPrefix     = "snap/"

	lockShards = 64
)

// lockTable serializes per-creative mutations. Package-level so Store
// instances from different component sets over one database take the
// same lock for the same creative.
var lockTable [lockShards]sync.Mutex

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Creative is the registered mapping from a creative to its pattern,
// plus the latest cumulative totals for delta computation.
type Creative struct {
	// ID identifies the creative.
	ID string `json:"id"`

	// PatternID is the creative pattern the creative was generated from.
	PatternID string `json:"pattern_id"`

	// UploadedAt anchors window ages for this creative.
	UploadedAt time.Time `json:"uploaded_at"`

	// LastImpressions, LastClicks, LastConversions are the cumulative
	// totals of the most recent snapshot. New reports must never
	// regress below them.
	LastImpressions int64 `json:"last_impressions"`
	LastClicks      int64 `json:"last_clicks"`
	LastConversions int64 `json:"last_conversions"`
}

// Snapshot is one append-only metric observation for a creative.
// Counts are cumulative since upload.
//
// Invariant: Conversions <= Clicks <= Impressions, all non-negative.
type Snapshot struct {
	CreativeID  string    `json:"creative_id"`
	Timestamp   time.Time `json:"timestamp"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`

	// WindowLabel is the observation window the snapshot's age fell
	// into when recorded.
	WindowLabel string `json:"window_label"`
}

// CTR returns clicks/impressions, or 0 for zero impressions.
func (s Snapshot) CTR() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Impressions)
}

// CVR returns conversions/clicks, defined as 0 when clicks = 0.
func (s Snapshot) CVR() float64 {
	if s.Clicks == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Clicks)
}

// Delta is the increment between two consecutive cumulative snapshots.
// It is what the bandit engine ingests as (successes, trials).
type Delta struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the durable creative and snapshot store backed by BadgerDB.
//
// Description:
//
//	Shares the database with the pattern-arm store under disjoint key
//	prefixes. Per-creative mutations are linearizable through sharded
//	mutexes, same as the arm store; the append-only snapshot history is
//	keyed by zero-padded timestamp so a reverse prefix scan yields the
//	latest observation.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db      *badgerdb.DB
	windows Windows
}

// NewStore creates a store over the given database and window table.
func NewStore(db *badgerdb.DB, windows Windows) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if err := windows.Validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, windows: windows}, nil
}

// Register creates the creative -> pattern mapping.
//
// Description:
//
//	Registration happens once at upload time. Re-registering the same
//	id with the same pattern is idempotent; with a different pattern it
//	fails with ErrCreativeExists.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - id: Creative id. Must not be empty.
//   - patternID: Owning pattern id. Must not be empty.
//   - uploadedAt: Upload time anchoring window ages. Zero means now.
func (s *Store) Register(ctx context.Context, id, patternID string, uploadedAt time.Time) (Creative, error) {
	if id == "" {
		return Creative{}, ErrEmptyCreativeID
	}
	if patternID == "" {
		return Creative{}, errors.New("pattern id must not be empty")
	}
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}

	var creative Creative
	err := s.withKeyLock(ctx, id, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			existing, err := readCreative(txn, id)
			if err == nil {
				if existing.PatternID != patternID {
					return fmt.Errorf("%w: %q is bound to pattern %q", ErrCreativeExists, id, existing.PatternID)
				}
				creative = existing
				return nil
			}
			if !errors.Is(err, ErrCreativeNotFound) {
				return err
			}

			creative = Creative{ID: id, PatternID: patternID, UploadedAt: uploadedAt.UTC()}
			return writeCreative(txn, creative)
		})
	})
	if err != nil {
		return Creative{}, err
	}
	return creative, nil
}

// Get returns the creative, or ErrCreativeNotFound.
func (s *Store) Get(ctx context.Context, id string) (Creative, error) {
	if id == "" {
		return Creative{}, ErrEmptyCreativeID
	}

	var creative Creative
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			found, err := readCreative(txn, id)
			if err != nil {
				return err
			}
			creative = found
			return nil
		})
	})
	if err != nil {
		return Creative{}, err
	}
	return creative, nil
}

// Record appends a cumulative snapshot and returns the increment over
// the previous one.
//
// Description:
//
//	Validates conversions <= clicks <= impressions and that every count
//	is monotone non-decreasing against the creative's last snapshot.
//	The returned Delta is what ingestion feeds the bandit engine, so
//	cumulative totals are never double-counted as trials.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - id: Creative id. Must be registered.
//   - impressions, clicks, conversions: Cumulative counts since upload.
//   - at: Observation time. Zero means now.
//
// Outputs:
//   - Snapshot: The stored snapshot, window label filled in.
//   - Delta: Increment over the previous snapshot (full counts for the
//     first report).
//   - error: ErrCreativeNotFound, ErrInvalidMetric, ErrTimeout, or a
//     storage error.
//
// Thread Safety: Linearizable per creative id.
func (s *Store) Record(ctx context.Context, id string, impressions, clicks, conversions int64, at time.Time) (Snapshot, Delta, error) {
	if id == "" {
		return Snapshot{}, Delta{}, ErrEmptyCreativeID
	}
	if impressions < 0 || clicks < 0 || conversions < 0 {
		return Snapshot{}, Delta{}, fmt.Errorf("%w: negative counts (%d, %d, %d) for creative %q",
			ErrInvalidMetric, impressions, clicks, conversions, id)
	}
	if conversions > clicks || clicks > impressions {
		return Snapshot{}, Delta{}, fmt.Errorf("%w: conversions <= clicks <= impressions violated (%d, %d, %d) for creative %q",
			ErrInvalidMetric, impressions, clicks, conversions, id)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	at = at.UTC()

	var (
		snap  Snapshot
		delta Delta
	)
	err := s.withKeyLock(ctx, id, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			creative, err := readCreative(txn, id)
			if err != nil {
				return err
			}
			if impressions < creative.LastImpressions || clicks < creative.LastClicks || conversions < creative.LastConversions {
				return fmt.Errorf("%w: cumulative counts regressed for creative %q (have %d/%d/%d, got %d/%d/%d)",
					ErrInvalidMetric, id,
					creative.LastImpressions, creative.LastClicks, creative.LastConversions,
					impressions, clicks, conversions)
			}

			delta = Delta{
				Impressions: impressions - creative.LastImpressions,
				Clicks:      clicks - creative.LastClicks,
				Conversions: conversions - creative.LastConversions,
			}

			snap = Snapshot{
				CreativeID:  id,
				Timestamp:   at,
				Impressions: impressions,
				Clicks:      clicks,
				Conversions: conversions,
				WindowLabel: s.windows.ForAge(at.Sub(creative.UploadedAt)).Label,
			}
			if err := writeSnapshot(txn, snap); err != nil {
				return err
			}

			creative.LastImpressions = impressions
			creative.LastClicks = clicks
			creative.LastConversions = conversions
			return writeCreative(txn, creative)
		})
	})
	if err != nil {
		return Snapshot{}, Delta{}, err
	}
	return snap, delta, nil
}

// Latest returns the creative's most recent snapshot. A registered
// creative with no snapshots yet returns a zero-count snapshot stamped
// with the upload time, which classifies as insufficient_data.
func (s *Store) Latest(ctx context.Context, id string) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrEmptyCreativeID
	}

	var snap Snapshot
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			creative, err := readCreative(txn, id)
			if err != nil {
				return err
			}

			found, ok, err := latestSnapshot(txn, id)
			if err != nil {
				return err
			}
			if !ok {
				snap = Snapshot{
					CreativeID:  id,
					Timestamp:   creative.UploadedAt,
					WindowLabel: s.windows.ForAge(0).Label,
				}
				return nil
			}
			snap = found
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// History returns the creative's snapshots in chronological order.
func (s *Store) History(ctx context.Context, id string) ([]Snapshot, error) {
	if id == "" {
		return nil, ErrEmptyCreativeID
	}

	var out []Snapshot
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			if _, err := readCreative(txn, id); err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(snapPrefix(id))
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				var snap Snapshot
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &snap)
				})
				if err != nil {
					return fmt.Errorf("decode snapshot %s: %w", it.Item().Key(), err)
				}
				out = append(out, snap)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (s *Store) withKeyLock(ctx context.Context, id string, fn func() error) error {
	shard := &lockTable[shardFor(id)]
	return s.run(ctx, func() error {
		shard.Lock()
		defer shard.Unlock()
		return fn()
	})
}

func (s *Store) run(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return mapCtxErr(err)
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return mapCtxErr(ctx.Err())
	}
}

func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func shardFor(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32() % lockShards
}

// snapPrefix is the key prefix for one creative's snapshot history.
func snapPrefix(id string) string {
	return snapKeyPrefix + id + "/"
}

// snapKey orders snapshots chronologically under the prefix by
// zero-padding the UnixNano timestamp to a fixed width.
func snapKey(id string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", snapPrefix(id), at.UnixNano()))
}

// latestSnapshot reverse-scans the creative's history prefix.
func latestSnapshot(txn *badger.Txn, id string) (Snapshot, bool, error) {
	prefix := []byte(snapPrefix(id))

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the prefix so the reverse iterator lands on the last key.
	seek := append(append([]byte{}, prefix...), 0xff)
	it.Seek(seek)
	if !it.Valid() {
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", it.Item().Key(), err)
	}
	return snap, true, nil
}

func readCreative(txn *badger.Txn, id string) (Creative, error) {
	item, err := txn.Get([]byte(creativeKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Creative{}, fmt.Errorf("%w: %q", ErrCreativeNotFound, id)
	}
	if err != nil {
		return Creative{}, err
	}

	var creative Creative
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &creative)
	})
	if err != nil {
		return Creative{}, fmt.Errorf("decode creative %q: %w", id, err)
	}
	return creative, nil
}

func writeCreative(txn *badger.Txn, c Creative) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode creative %q: %w", c.ID, err)
	}
	return txn.Set([]byte(creativeKeyPrefix+c.ID), raw)
}

func writeSnapshot(txn *badger.Txn, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %q: %w", snap.CreativeID, err)
	}
	return txn.Set(snapKey(snap.CreativeID, snap.Timestamp), raw)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AdPulse/services/bandit/storage/badgerdb"
)

const (
	armKeyPrefix = "arm/"
	priorKey     = "meta/prior"

	// lockShards is the size of the per-key mutex table. Keys are
	// FNV-hashed onto shards, so two patterns rarely contend.
	lockShards = 64
)

// lockTable serializes per-pattern mutations. Package-level so two
// Store instances over the same database (during a reconfigure swap,
// the old and new component sets coexist briefly) take the same lock
// for the same pattern instead of colliding in Badger's conflict
// detection.
var lockTable [lockShards]sync.Mutex

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the durable pattern-arm store backed by BadgerDB.
//
// Description:
//
//	Per-pattern mutations take a sharded mutex around a read-modify-write
//	transaction, which makes updates to a single arm linearizable: no
//	lost increments under concurrent writers. Multi-arm reads run inside
//	one Badger read transaction and therefore see an MVCC snapshot;
//	they may miss at most the writes that commit after the snapshot was
//	taken, which is the staleness bound the online estimator tolerates.
//
//	Every operation honors the caller's context deadline and reports
//	exhaustion as ErrTimeout rather than blocking.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db           *badgerdb.DB
	defaultPrior Prior
}

// NewStore creates a store over the given database.
//
// Inputs:
//   - db: The managed BadgerDB instance. Must not be nil.
//   - defaultPrior: Prior for fresh arms when no re-fit prior has been
//     persisted. Both parameters must be >= 1.
//
// Outputs:
//   - *Store: The new store. Never nil on success.
//   - error: Non-nil if db is nil or the prior violates the invariant.
func NewStore(db *badgerdb.DB, defaultPrior Prior) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if !defaultPrior.Valid() {
		return nil, fmt.Errorf("prior (%.3f, %.3f) violates alpha,beta >= 1", defaultPrior.Alpha0, defaultPrior.Beta0)
	}
	return &Store{db: db, defaultPrior: defaultPrior}, nil
}

// GetOrCreate returns the arm for the pattern, lazily creating it from
// the current prior if absent.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - patternID: The pattern id. Must not be empty.
//   - tag: Optional feature descriptor, recorded on first creation only.
//
// Outputs:
//   - Arm: The existing or freshly created arm.
//   - error: ErrEmptyPatternID, ErrTimeout, or a storage error.
//
// Thread Safety: Safe for concurrent use; creation is linearizable per key.
func (s *Store) GetOrCreate(ctx context.Context, patternID, tag string) (Arm, error) {
	if patternID == "" {
		return Arm{}, ErrEmptyPatternID
	}

	var arm Arm
	err := s.withKeyLock(ctx, patternID, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			existing, err := readArm(txn, patternID)
			if err == nil {
				arm = existing
				return nil
			}
			if !errors.Is(err, ErrPatternNotFound) {
				return err
			}

			prior, err := readPrior(txn, s.defaultPrior)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			arm = Arm{
				PatternID: patternID,
				Tag:       tag,
				Alpha:     prior.Alpha0,
				Beta:      prior.Beta0,
				Pulls:     0,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return writeArm(txn, arm)
		})
	})
	if err != nil {
		return Arm{}, err
	}
	return arm, nil
}

// Get returns the arm for the pattern, or ErrPatternNotFound.
func (s *Store) Get(ctx context.Context, patternID string) (Arm, error) {
	if patternID == "" {
		return Arm{}, ErrEmptyPatternID
	}

	var arm Arm
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			found, err := readArm(txn, patternID)
			if err != nil {
				return err
			}
			arm = found
			return nil
		})
	})
	if err != nil {
		return Arm{}, err
	}
	return arm, nil
}

// RecordOutcome absorbs (successes, trials) into the pattern's arm.
//
// Description:
//
//	Applies alpha += successes, beta += trials - successes,
//	pulls += trials inside one per-key critical section, preserving the
//	conservation invariant pulls == cumulative trials. When the arm is
//	absent it is created from the current prior if autoCreate is true,
//	otherwise the call fails with ErrPatternNotFound.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - patternID: The pattern id. Must not be empty.
//   - successes, trials: Outcome counts. 0 <= successes <= trials.
//   - autoCreate: Lazily create a missing arm from the prior.
//
// Outputs:
//   - Arm: The arm after the update.
//   - error: ErrInvalidMetric, ErrPatternNotFound, ErrTimeout, or a
//     storage error.
//
// Thread Safety: Linearizable per pattern id.
func (s *Store) RecordOutcome(ctx context.Context, patternID string, successes, trials int64, autoCreate bool) (Arm, error) {
	if patternID == "" {
		return Arm{}, ErrEmptyPatternID
	}
	if trials < 0 {
		return Arm{}, fmt.Errorf("%w: trials=%d for pattern %q", ErrInvalidMetric, trials, patternID)
	}
	if successes < 0 || successes > trials {
		return Arm{}, fmt.Errorf("%w: successes=%d trials=%d for pattern %q", ErrInvalidMetric, successes, trials, patternID)
	}

	var arm Arm
	err := s.withKeyLock(ctx, patternID, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			existing, err := readArm(txn, patternID)
			if errors.Is(err, ErrPatternNotFound) {
				if !autoCreate {
					return fmt.Errorf("%w: %q", ErrPatternNotFound, patternID)
				}
				prior, perr := readPrior(txn, s.defaultPrior)
				if perr != nil {
					return perr
				}
				now := time.Now().UTC()
				existing = Arm{
					PatternID: patternID,
					Alpha:     prior.Alpha0,
					Beta:      prior.Beta0,
					CreatedAt: now,
				}
			} else if err != nil {
				return err
			}

			existing.Alpha += float64(successes)
			existing.Beta += float64(trials - successes)
			existing.Pulls += trials
			existing.Version++
			existing.UpdatedAt = time.Now().UTC()

			arm = existing
			return writeArm(txn, existing)
		})
	})
	if err != nil {
		return Arm{}, err
	}
	return arm, nil
}

// List returns all arms from one consistent snapshot, sorted by pattern
// id for deterministic output.
//
// Thread Safety: Never blocks writers; readers see the MVCC snapshot
// taken when the call started.
func (s *Store) List(ctx context.Context) ([]Arm, error) {
	var out []Arm
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(armKeyPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				var arm Arm
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &arm)
				})
				if err != nil {
					return fmt.Errorf("decode arm %s: %w", it.Item().Key(), err)
				}
				out = append(out, arm)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out, nil
}

// Delete removes the pattern's arm. Deleting an absent arm is a no-op.
//
// Thread Safety: Takes the same per-key lock as RecordOutcome, so a
// concurrent update never interleaves with the removal.
func (s *Store) Delete(ctx context.Context, patternID string) error {
	if patternID == "" {
		return ErrEmptyPatternID
	}
	return s.withKeyLock(ctx, patternID, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			return txn.Delete([]byte(armKeyPrefix + patternID))
		})
	})
}

// DeleteIf removes the arm only when it still satisfies the prune
// criterion: pulls below the floor and no update since the cutoff.
//
// Description:
//
//	Callers that decide to prune from a List snapshot race against
//	concurrent RecordOutcome calls; an outcome that commits after the
//	snapshot must not be destroyed. DeleteIf re-reads the arm inside
//	the per-key critical section and skips the delete when the arm has
//	gained pulls or a fresher UpdatedAt in the meantime.
//
// Inputs:
//   - ctx: Context carrying the caller's timeout.
//   - patternID: The pattern id. Must not be empty.
//   - floor: Pulls count at or above which the arm is kept.
//   - cutoff: Arms updated at or after this instant are kept.
//
// Outputs:
//   - bool: True when the arm was deleted. An absent arm reports false
//     without error.
//   - error: ErrEmptyPatternID, ErrTimeout, or a storage error.
//
// Thread Safety: Linearizable per pattern id; the re-check and the
// delete share one critical section.
func (s *Store) DeleteIf(ctx context.Context, patternID string, floor int64, cutoff time.Time) (bool, error) {
	if patternID == "" {
		return false, ErrEmptyPatternID
	}

	var deleted bool
	err := s.withKeyLock(ctx, patternID, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			arm, err := readArm(txn, patternID)
			if errors.Is(err, ErrPatternNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if arm.Pulls >= floor || !arm.UpdatedAt.Before(cutoff) {
				return nil
			}
			if err := txn.Delete([]byte(armKeyPrefix + patternID)); err != nil {
				return err
			}
			deleted = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Prior returns the persisted prior, falling back to the store default.
func (s *Store) Prior(ctx context.Context) (Prior, error) {
	var prior Prior
	err := s.run(ctx, func() error {
		return s.db.WithView(ctx, func(txn *badger.Txn) error {
			p, err := readPrior(txn, s.defaultPrior)
			if err != nil {
				return err
			}
			prior = p
			return nil
		})
	})
	if err != nil {
		return Prior{}, err
	}
	return prior, nil
}

// SetPrior persists a re-fit prior for future arm creation.
//
// Existing arms are untouched; the prior only seeds GetOrCreate.
func (s *Store) SetPrior(ctx context.Context, p Prior) error {
	if !p.Valid() {
		return fmt.Errorf("prior (%.3f, %.3f) violates alpha,beta >= 1", p.Alpha0, p.Beta0)
	}
	return s.run(ctx, func() error {
		return s.db.WithUpdate(ctx, func(txn *badger.Txn) error {
			raw, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode prior: %w", err)
			}
			return txn.Set([]byte(priorKey), raw)
		})
	})
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// withKeyLock serializes fn against other mutations of the same pattern.
func (s *Store) withKeyLock(ctx context.Context, patternID string, fn func() error) error {
	shard := &lockTable[shardFor(patternID)]
	return s.run(ctx, func() error {
		shard.Lock()
		defer shard.Unlock()
		return fn()
	})
}

// run executes fn while watching the context, converting deadline
// exhaustion into ErrTimeout. When the deadline fires first, fn still
// runs to completion in the background; its transaction commits or
// discards atomically either way.
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

func shardFor(patternID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(patternID))
	return h.Sum32() % lockShards
}

func readArm(txn *badger.Txn, patternID string) (Arm, error) {
	item, err := txn.Get([]byte(armKeyPrefix + patternID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Arm{}, fmt.Errorf("%w: %q", ErrPatternNotFound, patternID)
	}
	if err != nil {
		return Arm{}, err
	}

	var arm Arm
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &arm)
	})
	if err != nil {
		return Arm{}, fmt.Errorf("decode arm %q: %w", patternID, err)
	}
	return arm, nil
}

func writeArm(txn *badger.Txn, arm Arm) error {
	raw, err := json.Marshal(arm)
	if err != nil {
		return fmt.Errorf("encode arm %q: %w", arm.PatternID, err)
	}
	return txn.Set([]byte(armKeyPrefix+arm.PatternID), raw)
}

func readPrior(txn *badger.Txn, fallback Prior) (Prior, error) {
	item, err := txn.Get([]byte(priorKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fallback, nil
	}
	if err != nil {
		return Prior{}, err
	}

	var p Prior
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	})
	if err != nil {
		return Prior{}, fmt.Errorf("decode prior: %w", err)
	}
	return p, nil
}

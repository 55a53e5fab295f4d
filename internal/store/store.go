// Package store persists list records and snapshots in BadgerDB.
//
// Snapshots are opaque JSON to the store. Update runs a read-modify-write
// inside an optimistic badger transaction and retries when a concurrent
// writer touched the same keys, so merges into one list never lose an update.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/internal/types"
)

var (
	ErrNotFound = errors.New("list not found")
	// ErrConflict is returned once Update has used up its retries.
	ErrConflict = errors.New("too many conflicting updates")
)

var (
	replicaKey     = []byte("replica/id")
	recordPrefix   = []byte("list/")
	snapshotPrefix = []byte("snap/")
)

type Config struct {
	Dir      string
	InMemory bool
	Retries  int
}

func DefaultConfig() Config {
	return Config{Dir: "./data", Retries: 5}
}

func InMemoryConfig() Config {
	return Config{InMemory: true, Retries: 5}
}

type Store struct {
	db      *badger.DB
	retries int
	logger  *zap.Logger
}

// badgerLogger routes badger's printf logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("data dir is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger.Named("badger").WithOptions(zap.IncreaseLevel(zap.WarnLevel)).Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	logger.Info("store opened", zap.String("dir", cfg.Dir), zap.Bool("in_memory", cfg.InMemory))
	return &Store{db: db, retries: retries, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplicaID returns this store's replica identity, creating and persisting
// one on first use.
func (s *Store) ReplicaID(ctx context.Context) (crdt.ReplicaID, error) {
	var id crdt.ReplicaID
	err := s.retry(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(replicaKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			id = crdt.NewReplicaID()
			s.logger.Info("new replica identity", zap.Stringer("replica", id))
			return txn.Set(replicaKey, id[:])
		case err != nil:
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := uuid.FromBytes(val)
			if err != nil {
				return fmt.Errorf("stored replica id: %w", err)
			}
			id = parsed
			return nil
		})
	})
	if err != nil {
		return crdt.ReplicaID{}, fmt.Errorf("replica id: %w", err)
	}
	return id, nil
}

// CreateList stores a new record and its initial snapshot. The record's ID
// and CreatedAt are assigned here.
func (s *Store) CreateList(ctx context.Context, rec types.ListRecord, snapshot []byte) (types.ListRecord, error) {
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC()

	err := s.retry(ctx, func(txn *badger.Txn) error {
		return putList(txn, rec, snapshot)
	})
	if err != nil {
		return types.ListRecord{}, fmt.Errorf("create list: %w", err)
	}
	s.logger.Debug("list created", zap.Stringer("list", rec.ID), zap.String("kind", string(rec.Kind)))
	return rec, nil
}

func (s *Store) GetList(ctx context.Context, id uuid.UUID) (types.ListRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.ListRecord{}, err
	}
	var rec types.ListRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// Lists returns every stored record, oldest first.
func (s *Store) Lists(ctx context.Context) ([]types.ListRecord, error) {
	var recs []types.ListRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec types.ListRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(recs, func(a, b types.ListRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return recs, nil
}

func (s *Store) Snapshot(ctx context.Context, id uuid.UUID) (types.ListRecord, []byte, error) {
	if err := ctx.Err(); err != nil {
		return types.ListRecord{}, nil, err
	}
	var (
		rec  types.ListRecord
		snap []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if rec, err = getRecord(txn, id); err != nil {
			return err
		}
		snap, err = getSnapshot(txn, id)
		return err
	})
	return rec, snap, err
}

// UpdateFunc receives the stored record and snapshot and returns the snapshot
// to write back. It may run more than once and must not keep its arguments.
type UpdateFunc func(rec types.ListRecord, snapshot []byte) ([]byte, error)

// Update rewrites the snapshot of an existing list.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) error {
	return s.retry(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		snap, err := getSnapshot(txn, id)
		if err != nil {
			return err
		}
		next, err := fn(rec, snap)
		if err != nil {
			return err
		}
		return txn.Set(snapshotKey(id), next)
	})
}

// Upsert behaves like Update when the list exists. Otherwise it stores rec
// and calls fn with a nil snapshot.
func (s *Store) Upsert(ctx context.Context, rec types.ListRecord, fn UpdateFunc) (types.ListRecord, error) {
	var stored types.ListRecord
	err := s.retry(ctx, func(txn *badger.Txn) error {
		existing, err := getRecord(txn, rec.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			next, err := fn(rec, nil)
			if err != nil {
				return err
			}
			stored = rec
			return putList(txn, rec, next)
		case err != nil:
			return err
		}

		snap, err := getSnapshot(txn, rec.ID)
		if err != nil {
			return err
		}
		next, err := fn(existing, snap)
		if err != nil {
			return err
		}
		stored = existing
		return txn.Set(snapshotKey(rec.ID), next)
	})
	return stored, err
}

func (s *Store) retry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= s.retries {
			return fmt.Errorf("%w: %d attempts", ErrConflict, attempt)
		}
		s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt))
	}
}

func putList(txn *badger.Txn, rec types.ListRecord, snapshot []byte) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := txn.Set(recordKey(rec.ID), data); err != nil {
		return err
	}
	return txn.Set(snapshotKey(rec.ID), snapshot)
}

func getRecord(txn *badger.Txn, id uuid.UUID) (types.ListRecord, error) {
	var rec types.ListRecord
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return rec, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

func getSnapshot(txn *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get(snapshotKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: snapshot of %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func recordKey(id uuid.UUID) []byte {
	return append(slices.Clone(recordPrefix), id.String()...)
}

func snapshotKey(id uuid.UUID) []byte {
	return append(slices.Clone(snapshotPrefix), id.String()...)
}

// Package replica applies local ops and merges peer snapshots against the
// persisted lists of one replica.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/internal/store"
	"github.com/kevinxiao27/listsync/internal/types"
)

var (
	ErrUnknownOp    = errors.New("unknown op")
	ErrKindMismatch = errors.New("list kind mismatch")
)

const watchBuffer = 4

type Replica struct {
	store  *store.Store
	id     crdt.ReplicaID
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[uuid.UUID]map[chan []byte]struct{}
}

// New loads (or creates) the replica identity of st.
func New(ctx context.Context, st *store.Store, logger *zap.Logger) (*Replica, error) {
	id, err := st.ReplicaID(ctx)
	if err != nil {
		return nil, err
	}
	return &Replica{
		store:    st,
		id:       id,
		logger:   logger.With(zap.Stringer("replica", id)),
		watchers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}, nil
}

func (r *Replica) ID() crdt.ReplicaID {
	return r.id
}

func (r *Replica) CreateList(ctx context.Context, title string, kind types.Kind) (types.ListRecord, error) {
	doc, err := newDocument(kind, r.id)
	if err != nil {
		return types.ListRecord{}, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return types.ListRecord{}, err
	}

	rec, err := r.store.CreateList(ctx, types.ListRecord{Title: title, Owner: r.id, Kind: kind}, data)
	if err != nil {
		return types.ListRecord{}, err
	}
	r.logger.Info("list created", zap.Stringer("list", rec.ID), zap.String("kind", string(kind)))
	return rec, nil
}

func (r *Replica) List(ctx context.Context, id uuid.UUID) (types.ListRecord, error) {
	return r.store.GetList(ctx, id)
}

func (r *Replica) Lists(ctx context.Context) ([]types.ListRecord, error) {
	return r.store.Lists(ctx)
}

// Apply performs op on the list as this replica and returns what it did
// together with the resulting items.
func (r *Replica) Apply(ctx context.Context, id uuid.UUID, op types.Op) (crdt.Outcome, []types.Item, error) {
	if err := op.Validate(); err != nil {
		return 0, nil, err
	}

	var (
		outcome crdt.Outcome
		items   []types.Item
		written []byte
	)
	err := r.store.Update(ctx, id, func(rec types.ListRecord, snap []byte) ([]byte, error) {
		doc, err := decodeDocument(rec.Kind, snap)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", id, err)
		}
		if outcome, err = doc.apply(op); err != nil {
			return nil, err
		}
		items = doc.items()
		if outcome == crdt.Absent {
			written = nil
			return snap, nil
		}
		written, err = json.Marshal(doc)
		return written, err
	})
	if err != nil {
		return 0, nil, err
	}

	opsTotal.WithLabelValues(string(op.Type), outcome.String()).Inc()
	fields := []zap.Field{
		zap.Stringer("list", id),
		zap.String("op", string(op.Type)),
		zap.String("item", op.Name),
		zap.Uint32("amount", op.Amount),
		zap.Stringer("outcome", outcome),
	}
	if outcome == crdt.Overflowed {
		r.logger.Warn("op dropped on overflow", fields...)
	} else {
		r.logger.Debug("op applied", fields...)
	}

	if written != nil {
		r.notify(id, written)
	}
	return outcome, items, nil
}

// Merge folds a snapshot received from another replica into the local copy
// of that list, creating the local copy on first sight.
func (r *Replica) Merge(ctx context.Context, env types.Envelope) (types.ListRecord, []types.Item, error) {
	kind := env.Record.Kind
	incoming, err := decodeDocument(kind, env.Snapshot)
	if err != nil {
		return types.ListRecord{}, nil, fmt.Errorf("incoming list %s: %w", env.Record.ID, err)
	}
	if env.Record.ID == uuid.Nil {
		return types.ListRecord{}, nil, fmt.Errorf("%w: incoming list without id", crdt.ErrMalformedSnapshot)
	}

	local := env.Record
	local.Owner = r.id

	var (
		items   []types.Item
		written []byte
	)
	rec, err := r.store.Upsert(ctx, local, func(rec types.ListRecord, snap []byte) ([]byte, error) {
		if rec.Kind != kind {
			return nil, fmt.Errorf("%w: local %q, incoming %q", ErrKindMismatch, rec.Kind, kind)
		}

		var (
			doc document
			err error
		)
		if snap == nil {
			doc, err = newDocument(kind, r.id)
		} else {
			doc, err = decodeDocument(kind, snap)
		}
		if err != nil {
			return nil, err
		}
		if err := doc.merge(incoming); err != nil {
			return nil, err
		}
		items = doc.items()
		written, err = json.Marshal(doc)
		return written, err
	})
	if err != nil {
		return types.ListRecord{}, nil, err
	}

	mergesTotal.WithLabelValues(string(kind)).Inc()
	r.logger.Debug("snapshot merged",
		zap.Stringer("list", rec.ID),
		zap.Stringer("from", env.Record.Owner),
		zap.Int("items", len(items)),
	)
	r.notify(rec.ID, written)
	return rec, items, nil
}

// Snapshot exports the list for another replica.
func (r *Replica) Snapshot(ctx context.Context, id uuid.UUID) (types.Envelope, error) {
	rec, snap, err := r.store.Snapshot(ctx, id)
	if err != nil {
		return types.Envelope{}, err
	}
	return types.Envelope{Record: rec, Snapshot: snap}, nil
}

func (r *Replica) Items(ctx context.Context, id uuid.UUID) ([]types.Item, error) {
	rec, snap, err := r.store.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(rec.Kind, snap)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", id, err)
	}
	return doc.items(), nil
}

// Watch returns a channel receiving the list's snapshot after every change.
// A slow reader only misses intermediate snapshots, never the latest one.
// Call cancel to stop watching.
func (r *Replica) Watch(id uuid.UUID) (<-chan []byte, func()) {
	ch := make(chan []byte, watchBuffer)

	r.mu.Lock()
	if r.watchers[id] == nil {
		r.watchers[id] = make(map[chan []byte]struct{})
	}
	r.watchers[id][ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.watchers[id], ch)
			if len(r.watchers[id]) == 0 {
				delete(r.watchers, id)
			}
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Replica) notify(id uuid.UUID, snap []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ch := range r.watchers[id] {
		select {
		case ch <- snap:
		default:
			// full: drop the oldest pending snapshot
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

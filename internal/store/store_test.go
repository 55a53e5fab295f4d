package store

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevinxiao27/listsync/crdt"
	"github.com/kevinxiao27/listsync/internal/types"
)

func newStore(t *testing.T, retries int) *Store {
	t.Helper()
	cfg := InMemoryConfig()
	cfg.Retries = retries
	s, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecord(title string) types.ListRecord {
	return types.ListRecord{Title: title, Owner: crdt.NewReplicaID(), Kind: types.Items}
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Dir: dir, Retries: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	id, err := s.ReplicaID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir, Retries: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	again, err := s.ReplicaID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again, "identity survives a restart")
}

func TestReplicaIDIsStable(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()

	a, err := s.ReplicaID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a)

	b, err := s.ReplicaID(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCreateAndReadList(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()

	rec, err := s.CreateList(ctx, newRecord("groceries"), []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetList(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Owner, got.Owner)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	_, snap, err := s.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(snap))
}

func TestMissingList(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()
	id := uuid.New()

	_, err := s.GetList(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Snapshot(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Update(ctx, id, func(types.ListRecord, []byte) ([]byte, error) {
		t.Fatal("update must not run for a missing list")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListsOldestFirst(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()

	var want []string
	for _, title := range []string{"a", "b", "c"} {
		rec, err := s.CreateList(ctx, newRecord(title), []byte(`{}`))
		require.NoError(t, err)
		want = append(want, rec.Title)
	}

	recs, err := s.Lists(ctx)
	require.NoError(t, err)
	var got []string
	for _, r := range recs {
		got = append(got, r.Title)
	}
	assert.Equal(t, want, got)
}

func TestUpdateRewritesSnapshot(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()
	rec, err := s.CreateList(ctx, newRecord("groceries"), []byte(`1`))
	require.NoError(t, err)

	err = s.Update(ctx, rec.ID, func(r types.ListRecord, snap []byte) ([]byte, error) {
		assert.Equal(t, rec.ID, r.ID)
		assert.Equal(t, `1`, string(snap))
		return []byte(`2`), nil
	})
	require.NoError(t, err)

	_, snap, err := s.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, `2`, string(snap))
}

func TestUpdateErrorKeepsSnapshot(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()
	rec, err := s.CreateList(ctx, newRecord("groceries"), []byte(`1`))
	require.NoError(t, err)

	err = s.Update(ctx, rec.ID, func(types.ListRecord, []byte) ([]byte, error) {
		return nil, crdt.ErrMalformedSnapshot
	})
	assert.ErrorIs(t, err, crdt.ErrMalformedSnapshot)

	_, snap, err := s.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, `1`, string(snap))
}

func TestUpdateGivesUpAfterRetries(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()
	rec, err := s.CreateList(ctx, newRecord("groceries"), []byte(`0`))
	require.NoError(t, err)

	calls := 0
	err = s.Update(ctx, rec.ID, func(types.ListRecord, []byte) ([]byte, error) {
		calls++
		// a competing writer commits between our read and our commit
		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(snapshotKey(rec.ID), []byte(strconv.Itoa(calls)))
		}))
		return []byte(`-1`), nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	s := newStore(t, 1000)
	ctx := context.Background()
	rec, err := s.CreateList(ctx, newRecord("counter"), []byte(`0`))
	require.NoError(t, err)

	const workers, each = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < each; k++ {
				err := s.Update(ctx, rec.ID, func(_ types.ListRecord, snap []byte) ([]byte, error) {
					n, err := strconv.Atoi(string(snap))
					if err != nil {
						return nil, err
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	_, snap, err := s.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*each), string(snap))
}

func TestUpsert(t *testing.T) {
	s := newStore(t, 5)
	ctx := context.Background()
	rec := newRecord("from peer")
	rec.ID = uuid.New()

	stored, err := s.Upsert(ctx, rec, func(r types.ListRecord, snap []byte) ([]byte, error) {
		assert.Nil(t, snap)
		return []byte(`"first"`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)

	// the second arrival keeps the stored record and merges into its snapshot
	other := rec
	other.Title = "renamed"
	stored, err = s.Upsert(ctx, other, func(r types.ListRecord, snap []byte) ([]byte, error) {
		assert.Equal(t, `"first"`, string(snap))
		return []byte(`"second"`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from peer", stored.Title)

	_, snap, err := s.Snapshot(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, `"second"`, string(snap))
}

func TestCancelledContext(t *testing.T) {
	s := newStore(t, 5)
	rec, err := s.CreateList(context.Background(), newRecord("groceries"), []byte(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.ReplicaID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.GetList(ctx, rec.ID)
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.Snapshot(ctx, rec.ID)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Lists(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBBatchAppliesAllWrites(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("stale"), []byte("x")))

	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	require.Equal(t, 3, batch.Len())

	_, err := db.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, batch.Write())
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	ok, err := db.Has([]byte("stale"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	batch := db1.NewBatch()
	batch.Put([]byte("key"), []byte("value"))
	require.NoError(t, batch.Write())
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	_, err = db2.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

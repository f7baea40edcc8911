package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/storage"
)

func TestSnapshotFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryCatalog()
	populate(t, src)

	snap, err := LoadSnapshot(ctx, src, "metrics", "devices")
	require.NoError(t, err)
	file := snap.File()
	assert.Equal(t, SnapshotFormatVersion, file.Version)
	assert.Len(t, file.Tables, 2)
	assert.Len(t, file.Chunks, 3)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{"catalog.json", "catalog.json.sz", "catalog.yaml"} {
		t.Run(path, func(t *testing.T) {
			require.NoError(t, WriteSnapshotFile(ctx, store, path, file))

			got, err := ReadSnapshotFile(ctx, store, path)
			require.NoError(t, err)
			assert.Equal(t, file.Version, got.Version)
			require.Len(t, got.Chunks, 3)
			assert.Equal(t, file.Chunks[2].RangeStart, got.Chunks[2].RangeStart)
			assert.Equal(t, int64(1000), got.Chunks[0].BatchSize)

			dst := NewMemoryCatalog()
			require.NoError(t, got.Load(ctx, dst))
			chunks, err := dst.Chunks(ctx, "metrics")
			require.NoError(t, err)
			assert.Len(t, chunks, 3)

			rebuilt, err := got.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, snap.TableNames(), rebuilt.TableNames())
		})
	}
}

func TestSnapshotFile_Errors(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = ReadSnapshotFile(ctx, store, "missing.json")
	assert.Equal(t, tserrors.CodeObjectNotFound, tserrors.GetCode(err))

	err = WriteSnapshotFile(ctx, store, "catalog.txt", &SnapshotFile{Version: SnapshotFormatVersion})
	assert.Equal(t, tserrors.ErrCategoryValidation, tserrors.GetCategory(err))

	require.NoError(t, store.Put(ctx, "broken.json.sz", []byte("not snappy")))
	_, err = ReadSnapshotFile(ctx, store, "broken.json.sz")
	assert.Equal(t, tserrors.CodeInconsistent, tserrors.GetCode(err))

	_, err = (&SnapshotFile{Version: 99}).Snapshot()
	assert.Equal(t, tserrors.CodeInconsistent, tserrors.GetCode(err))
}

package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/pkg/errors"
	"github.com/amlnet/federator/pkg/storage"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "run-1", "value"))

	val, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "value", val)
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "run-1", "value"))
	assert.ErrorIs(t, s.Create(ctx, "run-1", "other"), errors.ErrEntityExists)
}

func TestEmptyKey(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	assert.ErrorIs(t, s.Create(ctx, "", "value"), errors.ErrEmptyKey)
	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, errors.ErrEmptyKey)
	assert.ErrorIs(t, s.Update(ctx, "", "value"), errors.ErrEmptyKey)
	assert.ErrorIs(t, s.Delete(ctx, ""), errors.ErrEmptyKey)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateMissing(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()

	assert.ErrorIs(t, s.Update(context.Background(), "missing", "value"), errors.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "run-1", "old"))
	require.NoError(t, s.Update(ctx, "run-1", "new"))

	val, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "new", val)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "run-1", "value"))
	require.NoError(t, s.Delete(ctx, "run-1"))

	_, err := s.Get(ctx, "run-1")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestListStableOrder(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "c", 3))
	require.NoError(t, s.Create(ctx, "a", 1))
	require.NoError(t, s.Create(ctx, "b", 2))

	items, total, err := s.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, []any{1, 2, 3}, items)
}

func TestListPagination(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "a", 1))
	require.NoError(t, s.Create(ctx, "b", 2))
	require.NoError(t, s.Create(ctx, "c", 3))

	items, total, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	assert.Equal(t, []any{2}, items)

	items, total, err = s.List(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	assert.Empty(t, items)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/service/dao"
)

type note struct {
	ID   string
	Text string
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[note](func(n *note) string { return n.ID })

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
	assert.ErrorIs(t, s.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, s.Save(ctx, &note{}), dao.ErrInvalidID)

	n := &note{ID: "b/1", Text: "first"}
	require.NoError(t, s.Save(ctx, n))
	n.Text = "mutated"
	loaded, err := s.Load(ctx, "b/1")
	require.NoError(t, err)
	assert.Equal(t, "first", loaded.Text)

	require.NoError(t, s.Save(ctx, &note{ID: "a/1"}))
	require.NoError(t, s.Save(ctx, &note{ID: "b/0"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a/1", all[0].ID)

	filtered, err := s.List(ctx, dao.WithPrefix("b/"))
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "b/0", filtered[0].ID)
	assert.Equal(t, "b/1", filtered[1].ID)

	require.NoError(t, s.Delete(ctx, "a/1"))
	assert.ErrorIs(t, s.Delete(ctx, "a/1"), dao.ErrNotFound)

	optional, err := dao.LoadOptional[string, note](ctx, s, "a/1")
	require.NoError(t, err)
	assert.Nil(t, optional)
}

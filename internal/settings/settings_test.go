package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/kv"
)

func TestChimeIndexDefaultsWhenUnset(t *testing.T) {
	s := New(kv.NewMemStore())
	i, err := s.ChimeIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultChimeIndex, i)
}

func TestSetChimeIndexPersists(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemStore())

	require.NoError(t, s.SetChimeIndex(ctx, 4))
	i, err := s.ChimeIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, i)
}

func TestSetChimeIndexRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemStore())

	err := s.SetChimeIndex(ctx, ChimeMax+1)
	assert.Error(t, err)

	err = s.SetChimeIndex(ctx, ChimeMin-1)
	assert.Error(t, err)

	i, err := s.ChimeIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultChimeIndex, i, "rejected value must not mutate the stored setting")
}

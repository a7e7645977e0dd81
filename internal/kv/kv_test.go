package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	_, ok, err := m.Get(ctx, "ns", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "ns", "a", "1"))
	v, ok, err := m.Get(ctx, "ns", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, m.Delete(ctx, "ns", "a"))
	_, ok, err = m.Get(ctx, "ns", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.Set(ctx, "ns1", "k", "a"))
	require.NoError(t, m.Set(ctx, "ns2", "k", "b"))

	v1, _, _ := m.Get(ctx, "ns1", "k")
	v2, _, _ := m.Get(ctx, "ns2", "k")
	assert.Equal(t, "a", v1)
	assert.Equal(t, "b", v2)
}

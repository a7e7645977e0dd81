package provisioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/kv"
)

func TestIsProvisionedFalseInitially(t *testing.T) {
	h := New(kv.NewMemStore())
	ok, err := h.IsProvisioned(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadFailsWhenNotProvisioned(t *testing.T) {
	h := New(kv.NewMemStore())
	_, err := h.Load(context.Background())
	assert.Error(t, err)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	h := New(kv.NewMemStore())

	creds := Credentials{SSID: "home-wifi", Password: "hunter2", DeviceID: "dev-42", DeviceKey: "deadbeef"}
	require.NoError(t, h.Save(ctx, creds))

	ok, err := h.IsProvisioned(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestSaveRejectsMissingRequiredFields(t *testing.T) {
	h := New(kv.NewMemStore())
	err := h.Save(context.Background(), Credentials{Password: "x"})
	assert.Error(t, err)
}

func TestEraseClearsProvisionedState(t *testing.T) {
	ctx := context.Background()
	h := New(kv.NewMemStore())
	require.NoError(t, h.Save(ctx, Credentials{SSID: "a", DeviceID: "b"}))
	require.NoError(t, h.Erase(ctx))

	ok, err := h.IsProvisioned(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

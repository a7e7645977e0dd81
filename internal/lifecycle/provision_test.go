package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/kv"
	"github.com/doorbelld/doorbelld/internal/provisioning"
)

func TestResolveCredentialsAlreadyProvisioned(t *testing.T) {
	store := kv.NewMemStore()
	handoff := provisioning.New(store)
	ctx := context.Background()
	require.NoError(t, handoff.Save(ctx, provisioning.Credentials{
		SSID: "home-wifi", DeviceID: "doorbell-1", DeviceKey: "abcd",
	}))

	creds, err := resolveCredentials(ctx, handoff, nil)
	require.NoError(t, err)
	assert.Equal(t, "doorbell-1", creds.DeviceID)
}

type fakeBLE struct {
	started  bool
	stopped  bool
	outcomes []provisioning.WiFiOutcome
}

func (f *fakeBLE) Start() error { f.started = true; return nil }
func (f *fakeBLE) Stop() error  { f.stopped = true; return nil }
func (f *fakeBLE) ReportWiFiOutcome(o provisioning.WiFiOutcome) {
	f.outcomes = append(f.outcomes, o)
}

func TestResolveCredentialsPollsUntilBLECompletesHandoff(t *testing.T) {
	store := kv.NewMemStore()
	handoff := provisioning.New(store)
	ble := &fakeBLE{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(3 * provisionPollInterval / 2)
		_ = handoff.Save(context.Background(), provisioning.Credentials{
			SSID: "guest-wifi", DeviceID: "doorbell-2",
		})
	}()

	creds, err := resolveCredentials(ctx, handoff, ble)
	require.NoError(t, err)
	assert.Equal(t, "doorbell-2", creds.DeviceID)
	assert.True(t, ble.started)
	assert.True(t, ble.stopped)
	assert.Contains(t, ble.outcomes, provisioning.WiFiConnected)
}

func TestResolveCredentialsRespectsContextCancellation(t *testing.T) {
	store := kv.NewMemStore()
	handoff := provisioning.New(store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := resolveCredentials(ctx, handoff, nil)
	assert.Error(t, err)
}

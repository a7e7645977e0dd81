// Package provisioning implements the provisioning handoff (C12): it reads
// Wi-Fi credentials and device identity from KV once BLE provisioning has
// completed. It contains no BLE logic itself — only the handoff contract
// ble.go describes.
package provisioning

import (
	"context"
	"fmt"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/kv"
)

// KV namespace and key names carried through verbatim from the
// provisioning NVS schema: "wifi_creds" with ssid/password/device_id/
// device_key/provisioned keys.
const (
	Namespace = "wifi_creds"

	KeySSID        = "ssid"
	KeyPassword    = "password"
	KeyDeviceID    = "device_id"
	KeyDeviceKey   = "device_key"
	KeyProvisioned = "provisioned"

	provisionedValue = "1"
)

// Credentials holds the identity and Wi-Fi secrets handed off after BLE
// provisioning completes.
type Credentials struct {
	SSID       string
	Password   string
	DeviceID   string
	DeviceKey  string // hex-encoded
}

// Handoff reads provisioning state from KV.
type Handoff struct {
	kv kv.Store
}

func New(store kv.Store) *Handoff {
	return &Handoff{kv: store}
}

// IsProvisioned reports whether BLE provisioning has ever completed.
func (h *Handoff) IsProvisioned(ctx context.Context) (bool, error) {
	v, ok, err := h.kv.Get(ctx, Namespace, KeyProvisioned)
	if err != nil {
		return false, doorbellerr.New(doorbellerr.Internal, "provisioning", "IsProvisioned", err)
	}
	return ok && v == provisionedValue, nil
}

// Load returns the stored credentials. Callers must check IsProvisioned
// first; Load on an unprovisioned device returns INVALID_STATE.
func (h *Handoff) Load(ctx context.Context) (Credentials, error) {
	provisioned, err := h.IsProvisioned(ctx)
	if err != nil {
		return Credentials{}, err
	}
	if !provisioned {
		return Credentials{}, doorbellerr.New(doorbellerr.InvalidState, "provisioning", "Load", fmt.Errorf("device not provisioned"))
	}

	ssid, _, _ := h.kv.Get(ctx, Namespace, KeySSID)
	pass, _, _ := h.kv.Get(ctx, Namespace, KeyPassword)
	deviceID, _, _ := h.kv.Get(ctx, Namespace, KeyDeviceID)
	deviceKey, _, _ := h.kv.Get(ctx, Namespace, KeyDeviceKey)

	return Credentials{
		SSID:      ssid,
		Password:  pass,
		DeviceID:  deviceID,
		DeviceKey: deviceKey,
	}, nil
}

// Save persists credentials and marks the device provisioned. Called by
// the BLE collaborator's handoff once it has collected everything from the
// phone; this package has no opinion on how those values were obtained.
func (h *Handoff) Save(ctx context.Context, creds Credentials) error {
	if creds.SSID == "" || creds.DeviceID == "" {
		return doorbellerr.New(doorbellerr.InvalidArg, "provisioning", "Save", fmt.Errorf("ssid and device_id required"))
	}
	if err := h.kv.Set(ctx, Namespace, KeySSID, creds.SSID); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "provisioning", "Save", err)
	}
	if err := h.kv.Set(ctx, Namespace, KeyPassword, creds.Password); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "provisioning", "Save", err)
	}
	if err := h.kv.Set(ctx, Namespace, KeyDeviceID, creds.DeviceID); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "provisioning", "Save", err)
	}
	if err := h.kv.Set(ctx, Namespace, KeyDeviceKey, creds.DeviceKey); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "provisioning", "Save", err)
	}
	return h.kv.Set(ctx, Namespace, KeyProvisioned, provisionedValue)
}

// Erase clears all provisioning data, used when a reset is requested.
func (h *Handoff) Erase(ctx context.Context) error {
	for _, key := range []string{KeySSID, KeyPassword, KeyDeviceID, KeyDeviceKey, KeyProvisioned} {
		if err := h.kv.Delete(ctx, Namespace, key); err != nil {
			return doorbellerr.New(doorbellerr.Internal, "provisioning", "Erase", err)
		}
	}
	return nil
}

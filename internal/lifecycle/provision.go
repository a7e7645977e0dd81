package lifecycle

import (
	"context"
	"time"

	"github.com/doorbelld/doorbelld/internal/provisioning"
)

// provisionPollInterval is how often the BLE-provisioned predicate is
// re-checked while waiting for a phone to complete handoff (§4.12).
const provisionPollInterval = 2 * time.Second

// resolveCredentials implements §4.13 step 5: if the device is already
// provisioned, load the stored credentials directly; otherwise start the
// BLE collaborator (when one is wired) and poll IsProvisioned until it
// flips true, then stop BLE and load the freshly-stored credentials.
func resolveCredentials(ctx context.Context, handoff *provisioning.Handoff, ble provisioning.BLECollaborator) (provisioning.Credentials, error) {
	provisioned, err := handoff.IsProvisioned(ctx)
	if err != nil {
		return provisioning.Credentials{}, err
	}
	if provisioned {
		return handoff.Load(ctx)
	}

	if ble != nil {
		if err := ble.Start(); err != nil {
			return provisioning.Credentials{}, err
		}
		defer func() { _ = ble.Stop() }()
	}

	ticker := time.NewTicker(provisionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return provisioning.Credentials{}, ctx.Err()
		case <-ticker.C:
			ok, err := handoff.IsProvisioned(ctx)
			if err != nil {
				return provisioning.Credentials{}, err
			}
			if ok {
				creds, err := handoff.Load(ctx)
				if err != nil {
					return provisioning.Credentials{}, err
				}
				if ble != nil {
					ble.ReportWiFiOutcome(provisioning.WiFiConnected)
				}
				return creds, nil
			}
		}
	}
}

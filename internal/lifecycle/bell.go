package lifecycle

import (
	"encoding/json"
	"time"

	"github.com/doorbelld/doorbelld/internal/provisioning"
)

// bellEvent mirrors the wire shape published to …/bell_event/%s (§6).
type bellEvent struct {
	DeviceID     string `json:"device_id"`
	DeviceKeyHex string `json:"device_key"`
	TimestampMS  int64  `json:"timestamp"`
	Event        string `json:"event"`
}

func bellEventPayload(identity provisioning.Credentials, at time.Time) ([]byte, error) {
	return json.Marshal(bellEvent{
		DeviceID:     identity.DeviceID,
		DeviceKeyHex: identity.DeviceKey,
		TimestampMS:  at.UnixMilli(),
		Event:        "bell_pressed",
	})
}

package heartbeat

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/kv"
)

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *fakePublisher) PublishHeartbeat(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func (p *fakePublisher) last() Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	var pl Payload
	_ = json.Unmarshal(p.payloads[len(p.payloads)-1], &pl)
	return pl
}

type fakeStatus struct{ active bool }

func (f *fakeStatus) SignalStrengthDBm() int { return -55 }
func (f *fakeStatus) IsActive() bool         { return f.active }

func TestNewRejectsZeroInterval(t *testing.T) {
	_, err := New(Config{KV: kv.NewMemStore(), Publisher: &fakePublisher{}, Status: &fakeStatus{}})
	assert.Error(t, err)
}

func TestStartPublishesImmediately(t *testing.T) {
	pub := &fakePublisher{}
	store := kv.NewMemStore()
	require.NoError(t, store.Set(context.Background(), identityNamespace, keyDeviceID, "dev-1"))

	s, err := New(Config{Interval: time.Hour, KV: store, Publisher: pub, Status: &fakeStatus{active: true}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool { return pub.count() >= 1 }, time.Second, 5*time.Millisecond)

	payload := pub.last()
	assert.Equal(t, "dev-1", payload.DeviceID)
	assert.True(t, payload.IsActive)
	assert.Equal(t, -55, payload.SignalDBm)
	assert.Len(t, payload.DeviceKeyHex, deviceKeyLength*2)
}

func TestBatteryDriftResetsAtCriticalFloor(t *testing.T) {
	s, err := New(Config{
		Interval:  time.Hour,
		KV:        kv.NewMemStore(),
		Publisher: &fakePublisher{},
		Status:    &fakeStatus{},
		Rand:      rand.New(rand.NewSource(1)), // deterministic sequence
	})
	require.NoError(t, err)
	s.battery = batteryCritical

	level := s.nextBatteryLevel()
	assert.Equal(t, batteryFull, level, "battery must reset to full at or below the critical floor")
}

func TestBatteryNeverGoesNegative(t *testing.T) {
	s, err := New(Config{
		Interval:  time.Hour,
		KV:        kv.NewMemStore(),
		Publisher: &fakePublisher{},
		Status:    &fakeStatus{},
	})
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		level := s.nextBatteryLevel()
		assert.GreaterOrEqual(t, level, 0)
		assert.LessOrEqual(t, level, batteryFull)
	}
}

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorbelld/doorbelld/internal/config"
)

func TestSyncClockRequiresTwoServers(t *testing.T) {
	cfg := config.ClockConfig{Servers: []string{"time1.example.com"}, Timeout: time.Second}
	_, err := syncClock(context.Background(), cfg, defaultClockQuery)
	require.Error(t, err)
}

func TestSyncClockSucceedsWithTwoStratumOnePeers(t *testing.T) {
	cfg := config.ClockConfig{
		Servers: []string{"a.example.com", "b.example.com"},
		Timeout: time.Second,
	}
	query := func(_ context.Context, server string, _ time.Duration) (*ntp.Response, error) {
		return &ntp.Response{Stratum: 1, ClockOffset: 5 * time.Millisecond}, nil
	}

	status, err := syncClock(context.Background(), cfg, query)
	require.NoError(t, err)
	assert.Contains(t, status, "2 stratum-1 peers")
}

func TestSyncClockFailsOnShortfall(t *testing.T) {
	cfg := config.ClockConfig{
		Servers: []string{"a.example.com", "b.example.com"},
		Timeout: time.Second,
	}
	query := func(_ context.Context, server string, _ time.Duration) (*ntp.Response, error) {
		if server == "a.example.com" {
			return &ntp.Response{Stratum: 1}, nil
		}
		return nil, errors.New("no route to host")
	}

	_, err := syncClock(context.Background(), cfg, query)
	assert.Error(t, err)
}

func TestSyncClockIgnoresNonStratumOnePeers(t *testing.T) {
	cfg := config.ClockConfig{
		Servers: []string{"a.example.com", "b.example.com"},
		Timeout: time.Second,
	}
	query := func(_ context.Context, server string, _ time.Duration) (*ntp.Response, error) {
		return &ntp.Response{Stratum: 2}, nil
	}

	_, err := syncClock(context.Background(), cfg, query)
	assert.Error(t, err)
}

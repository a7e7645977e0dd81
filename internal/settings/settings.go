// Package settings implements the bounded, validated chime-index store
// (C10), persisted through the KV contract.
package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/doorbelld/doorbelld/internal/doorbellerr"
	"github.com/doorbelld/doorbelld/internal/kv"
)

const (
	namespace = "settings"
	keyChime  = "chime_index"

	// ChimeMin and ChimeMax bound the persisted chime index.
	ChimeMin = 0
	ChimeMax = 9

	// DefaultChimeIndex is returned when no value has ever been stored.
	DefaultChimeIndex = 0
)

// Store reads and writes the chime index, enforcing [ChimeMin, ChimeMax].
type Store struct {
	kv kv.Store
}

func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// ChimeIndex returns the persisted chime index, or DefaultChimeIndex if
// nothing has been stored yet.
func (s *Store) ChimeIndex(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, namespace, keyChime)
	if err != nil {
		return 0, doorbellerr.New(doorbellerr.Internal, "settings", "ChimeIndex", err)
	}
	if !ok {
		return DefaultChimeIndex, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultChimeIndex, nil
	}
	return i, nil
}

// SetChimeIndex validates and persists a new chime index. Out-of-range
// values are rejected with INVALID_ARG and leave the stored value
// unchanged.
func (s *Store) SetChimeIndex(ctx context.Context, i int) error {
	if i < ChimeMin || i > ChimeMax {
		return doorbellerr.New(doorbellerr.InvalidArg, "settings", "SetChimeIndex", fmt.Errorf("chime index %d out of range [%d,%d]", i, ChimeMin, ChimeMax))
	}
	if err := s.kv.Set(ctx, namespace, keyChime, strconv.Itoa(i)); err != nil {
		return doorbellerr.New(doorbellerr.Internal, "settings", "SetChimeIndex", err)
	}
	return nil
}

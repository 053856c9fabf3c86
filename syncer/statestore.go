package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yeying-community/ucansync/appstate"
	"github.com/yeying-community/ucansync/kv"
)

// StateStore owns the locally persisted application state the syncer
// reconciles. Replace applies each slice wholesale; readers never see a
// partially merged slice.
type StateStore interface {
	// Load returns the current local snapshot.
	Load(ctx context.Context) (appstate.AppState, error)

	// Replace writes merged slices back, whole slice at a time.
	Replace(ctx context.Context, state appstate.AppState) error

	// Hydrated reports whether the initial local load has completed.
	// Sync attempts are refused before hydration.
	Hydrated() bool

	// Streaming reports whether any chat session is mid-stream; the
	// scheduler defers attempts while it holds.
	Streaming() bool
}

const stateKeyPrefix = "state:"

func sliceKey(slice appstate.Slice) string {
	return stateKeyPrefix + string(slice)
}

// KVStateStore persists each slice under its own key of a kv.Store.
// A slice write is one kv.Set, which every kv backend applies
// atomically.
type KVStateStore struct {
	store kv.Store

	mu       sync.RWMutex
	hydrated bool
	cached   appstate.AppState
}

var _ StateStore = (*KVStateStore)(nil)

// NewKVStateStore wraps store. Call Load (or Hydrate) once before
// scheduling sync attempts.
func NewKVStateStore(store kv.Store) *KVStateStore {
	return &KVStateStore{store: store}
}

func (s *KVStateStore) loadSlice(ctx context.Context, slice appstate.Slice, into any) error {
	raw, err := s.store.Get(ctx, sliceKey(slice))
	if err != nil {
		return fmt.Errorf("load %s: %w", slice, err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("load %s: %w", slice, err)
	}
	return nil
}

// Load reads every slice and marks the store hydrated.
func (s *KVStateStore) Load(ctx context.Context) (appstate.AppState, error) {
	var state appstate.AppState
	if err := s.loadSlice(ctx, appstate.SliceChat, &state.Chat); err != nil {
		return appstate.AppState{}, err
	}
	if err := s.loadSlice(ctx, appstate.SliceAccess, &state.Access); err != nil {
		return appstate.AppState{}, err
	}
	if err := s.loadSlice(ctx, appstate.SliceConfig, &state.Config); err != nil {
		return appstate.AppState{}, err
	}
	if err := s.loadSlice(ctx, appstate.SliceMask, &state.Mask); err != nil {
		return appstate.AppState{}, err
	}
	if err := s.loadSlice(ctx, appstate.SlicePrompt, &state.Prompt); err != nil {
		return appstate.AppState{}, err
	}
	s.mu.Lock()
	s.hydrated = true
	s.cached = state.Clone()
	s.mu.Unlock()
	return state, nil
}

// Replace writes every slice back, one atomic write per slice.
func (s *KVStateStore) Replace(ctx context.Context, state appstate.AppState) error {
	write := func(slice appstate.Slice, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("replace %s: %w", slice, err)
		}
		if err := s.store.Set(ctx, sliceKey(slice), raw); err != nil {
			return fmt.Errorf("replace %s: %w", slice, err)
		}
		return nil
	}
	if err := write(appstate.SliceChat, state.Chat); err != nil {
		return err
	}
	if err := write(appstate.SliceAccess, state.Access); err != nil {
		return err
	}
	if err := write(appstate.SliceConfig, state.Config); err != nil {
		return err
	}
	if err := write(appstate.SliceMask, state.Mask); err != nil {
		return err
	}
	if err := write(appstate.SlicePrompt, state.Prompt); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = state.Clone()
	s.mu.Unlock()
	return nil
}

// Hydrated reports whether Load has completed at least once.
func (s *KVStateStore) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Streaming reports whether the last loaded chat slice holds a
// mid-stream message.
func (s *KVStateStore) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.cached.Chat.Sessions {
		for _, m := range session.Messages {
			if m.IsStreaming() {
				return true
			}
		}
	}
	return false
}

// Mutate applies fn to the cached state and persists the result. It is
// the write path for embedding programs mutating state between syncs.
func (s *KVStateStore) Mutate(ctx context.Context, fn func(*appstate.AppState)) error {
	s.mu.Lock()
	next := s.cached.Clone()
	s.mu.Unlock()
	fn(&next)
	return s.Replace(ctx, next)
}

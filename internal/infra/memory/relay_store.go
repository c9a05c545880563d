package memory

import (
	"context"
	"sync"

	"quiz-resume-service/internal/app"
)

// RelayHub keeps relay keys of every device in process memory. It satisfies
// app.RelayFactory; useful for tests and single-instance demos.
type RelayHub struct {
	mu      sync.RWMutex
	devices map[string]*RelayStore
}

func NewRelayHub() *RelayHub {
	return &RelayHub{devices: make(map[string]*RelayStore)}
}

func (h *RelayHub) Device(deviceID string) app.RelayStore {
	return h.device(deviceID)
}

func (h *RelayHub) device(deviceID string) *RelayStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	store, ok := h.devices[deviceID]
	if !ok {
		store = NewRelayStore()
		h.devices[deviceID] = store
	}
	return store
}

// EndBrowserSession drops the session scope of a device, as closing the
// browser would.
func (h *RelayHub) EndBrowserSession(deviceID string) {
	h.device(deviceID).clearScope(app.ScopeSession)
}

// RelayStore is an in-memory implementation of app.RelayStore for one device.
type RelayStore struct {
	mu     sync.RWMutex
	values map[app.Scope]map[string]string
}

func NewRelayStore() *RelayStore {
	return &RelayStore{
		values: map[app.Scope]map[string]string{
			app.ScopeSession: {},
			app.ScopeDurable: {},
		},
	}
}

func (s *RelayStore) Get(_ context.Context, key string, scope app.Scope) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[scope][key]
	return v, ok, nil
}

func (s *RelayStore) Set(_ context.Context, key, value string, scope app.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[scope] == nil {
		s.values[scope] = make(map[string]string)
	}
	s.values[scope][key] = value
	return nil
}

func (s *RelayStore) Delete(_ context.Context, key string, scope app.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[scope], key)
	return nil
}

func (s *RelayStore) clearScope(scope app.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[scope] = make(map[string]string)
}

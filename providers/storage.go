package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sandbox "github.com/tuff-dev/tuff-sandbox"
	"github.com/tuff-dev/tuff-sandbox/registry"
)

// Storage serves plugin.storage from memory. Each plugin sees only its
// own keys.
type Storage struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

var _ sandbox.Provider = (*Storage)(nil)

// NewStorage creates an empty store.
func NewStorage() *Storage {
	return &Storage{data: make(map[string]map[string]any)}
}

// Handle implements sandbox.Provider.
func (s *Storage) Handle(_ context.Context, call *sandbox.Call) (any, error) {
	var p registry.StorageParams
	if err := decode(call.Payload, &p); err != nil {
		return nil, err
	}

	switch p.Op {
	case "get":
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.data[call.Plugin][p.Key], nil
	case "set":
		s.mu.Lock()
		defer s.mu.Unlock()
		kv, ok := s.data[call.Plugin]
		if !ok {
			kv = make(map[string]any)
			s.data[call.Plugin] = kv
		}
		kv[p.Key] = p.Value
		return true, nil
	case "delete":
		s.mu.Lock()
		defer s.mu.Unlock()
		_, existed := s.data[call.Plugin][p.Key]
		delete(s.data[call.Plugin], p.Key)
		return existed, nil
	case "list":
		s.mu.RLock()
		keys := make([]string, 0, len(s.data[call.Plugin]))
		for k := range s.data[call.Plugin] {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported storage op %q", p.Op)
}

// Forget drops every key of pluginName.
func (s *Storage) Forget(pluginName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, pluginName)
}

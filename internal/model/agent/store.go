package agent

import "strings"

// Store exposes agent retrieval for handlers and routing.
type Store interface {
	List() []Agent
	FindByID(id string) (Agent, bool)
	Route(message string) Agent
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items     []Agent
	defaultID string
}

// NewMemoryStore returns a MemoryStore preloaded with items. The first item is the default.
func NewMemoryStore(items []Agent) *MemoryStore {
	s := &MemoryStore{items: append([]Agent(nil), items...)}
	if len(items) > 0 {
		s.defaultID = items[0].ID
	}
	return s
}

// List returns the configured agents.
func (s *MemoryStore) List() []Agent {
	return append([]Agent(nil), s.items...)
}

// FindByID looks up an agent by identifier.
func (s *MemoryStore) FindByID(id string) (Agent, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Agent{}, false
}

// Route picks the first agent whose keywords appear in message, else the default agent.
func (s *MemoryStore) Route(message string) Agent {
	lower := strings.ToLower(message)
	for _, item := range s.items {
		for _, kw := range item.Keywords {
			if strings.Contains(lower, kw) {
				return item
			}
		}
	}
	a, _ := s.FindByID(s.defaultID)
	return a
}

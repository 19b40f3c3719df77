// Package cart keeps the draft carts agents assemble while working on tasks.
// A Store holds one draft per task ID; the engine wires one shared Store into
// the shopping tools and keys every run by a fresh task ID, and shared hosts
// (the MCP server) rely on the same keying to isolate concurrent sessions.
// The zero value is ready to use.
package cart

import (
	"sync"
)

// Item is one cart position.
type Item struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

// Store is a thread-safe set of cart drafts keyed by task ID. Positions keep
// insertion order within a draft.
type Store struct {
	mu     sync.RWMutex
	once   sync.Once
	drafts map[string][]Item
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) init() {
	s.once.Do(func() {
		s.drafts = make(map[string][]Item)
	})
}

// Add puts an item into the task's draft. Adding a product that is already in
// the draft increases its quantity; a non-positive quantity counts as one.
// Name and price are refreshed when the new item carries them.
func (s *Store) Add(taskID string, item Item) {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.drafts[taskID]
	for i := range draft {
		if draft[i].ProductID != item.ProductID {
			continue
		}

		draft[i].Quantity += item.Quantity
		if item.Name != "" {
			draft[i].Name = item.Name
		}
		if item.Price > 0 {
			draft[i].Price = item.Price
		}

		return
	}

	s.drafts[taskID] = append(draft, item)
}

// Remove deletes a position from the task's draft. It reports whether the
// product was present.
func (s *Store) Remove(taskID, productID string) bool {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.drafts[taskID]
	for i := range draft {
		if draft[i].ProductID != productID {
			continue
		}

		s.drafts[taskID] = append(draft[:i], draft[i+1:]...)
		return true
	}

	return false
}

// Items returns a copy of the task's draft in insertion order.
func (s *Store) Items(taskID string) []Item {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft := s.drafts[taskID]
	out := make([]Item, len(draft))
	copy(out, draft)

	return out
}

// Total returns the draft's price sum over positions with a known price.
func (s *Store) Total(taskID string) float64 {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, item := range s.drafts[taskID] {
		total += item.Price * float64(item.Quantity)
	}

	return total
}

// Clear drops the task's draft entirely.
func (s *Store) Clear(taskID string) {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, taskID)
}

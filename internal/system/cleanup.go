package system

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type cleanupEntry struct {
	name string
	fn   func() error
}

// CleanupStack runs registered release functions in reverse order (LIFO).
// It is safe to Execute more than once; each entry runs at most once.
type CleanupStack struct {
	entries []cleanupEntry
	mu      sync.Mutex
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{
		entries: make([]cleanupEntry, 0),
	}
}

// Add pushes a named cleanup function onto the stack
func (s *CleanupStack) Add(name string, cleanup func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cleanupEntry{name: name, fn: cleanup})
}

// Len reports how many cleanups are pending
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Execute runs all pending cleanup functions in reverse order and empties the stack
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var result *multierror.Error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].fn(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", entries[i].name, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("cleanup errors: %w", err)
	}
	return nil
}

// Clear drops all pending cleanups without running them (call on success)
func (s *CleanupStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

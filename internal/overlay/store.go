package overlay

import (
	"log/slog"
	"sync"

	"github.com/jsonfox/draft-league-bot/internal/metrics"
)

// Store holds the current overlay state.
type Store struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// NewStore creates a Store holding DefaultState.
func NewStore(logger *slog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:    logger.With("component", "overlay"),
		metrics:   m,
		state:     DefaultState(),
		listeners: make(map[int]func(State)),
	}
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update validates and replaces the state, then notifies listeners. An
// invalid state leaves the current one untouched.
func (s *Store) Update(next State) error {
	if err := next.Validate(); err != nil {
		s.logger.Warn("received invalid overlay data", "error", err)
		return err
	}

	s.mu.Lock()
	s.state = next.clone()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("overlay updated")
	s.metrics.OverlayUpdate()
	for _, fn := range listeners {
		fn(next.clone())
	}
	return nil
}

// Subscribe registers fn for every accepted update and returns a function
// that removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotFound is returned by a Backend that has no saved settings.
var ErrNotFound = errors.New("settings not found")

// Backend persists settings.
type Backend interface {
	GetSettings() (Settings, error)
	SaveSettings(s Settings) error
}

// Listener is notified after settings change.
type Listener func(prev, next Settings)

// Store loads and saves settings and notifies listeners of changes.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu        sync.Mutex
	current   *Settings
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Load returns the saved settings, or the defaults when none are saved. The
// result is a copy; changing it does not affect the store.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Settings, error) {
	if s.current == nil {
		saved, err := s.backend.GetSettings()
		if errors.Is(err, ErrNotFound) {
			saved, err = Defaults(), nil
		}
		if err != nil {
			return Settings{}, fmt.Errorf("loading settings: %w", err)
		}
		saved = saved.Clone()
		s.current = &saved
	}
	return s.current.Clone(), nil
}

// Save validates and persists next, then notifies listeners.
func (s *Store) Save(next Settings) (Settings, error) {
	next = next.Clone().Normalize()
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	old, err := s.load()
	if err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	if err := s.backend.SaveSettings(next); err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	stored := next.Clone()
	s.current = &stored
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.logger.Info("Settings saved", "baseCurrency", next.BaseCurrency, "enabled", next.Enabled)
	for _, l := range listeners {
		l(old, next)
	}
	return next, nil
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

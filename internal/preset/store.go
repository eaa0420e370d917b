package preset

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Store holds the currently loaded presets behind a read/write lock so the
// refresh daemon can swap them without blocking readers.
type Store struct {
	mu     sync.RWMutex
	config Config
}

func NewStore() *Store {
	return &Store{}
}

// Get retrieves a preset by name.
func (s *Store) Get(name string) (Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.config.Presets {
		if p.Name == name {
			return p, nil
		}
	}

	return Preset{}, ErrNotFound
}

// Names returns the names of all loaded presets.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.config.Presets))
	for _, p := range s.config.Presets {
		names = append(names, p.Name)
	}

	return names
}

// Update replaces the currently stored presets. Logs at info level if the
// content changed (based on digest), or at debug level if unchanged.
func (s *Store) Update(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldDigest := s.config.Digest()
	newDigest := config.Digest()

	// by default, only log when the source has actually changed content
	if oldDigest != newDigest {
		log.Info().Int("presets", len(config.Presets)).Msg("report presets: updated")
	} else {
		log.Debug().Msg("report presets: no changes detected")
	}

	s.config = config
}

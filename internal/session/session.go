package session

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/curbz/skycargo/internal/model"
)

// Snapshot is what a client session keeps in memory between reconnects.
type Snapshot struct {
	Credential    string
	LocalPlayerID string
	Plane         model.PlaneState
	SavedAt       time.Time
}

type Config struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, CleanupInterval: 5 * time.Minute}
}

// Store holds snapshots keyed by session id. Entries expire after the TTL
// unless saved again.
type Store struct {
	cache *cache.Cache
	now   func() time.Time
}

func NewStore(cfg Config) *Store {
	return &Store{
		cache: cache.New(cfg.TTL, cfg.CleanupInterval),
		now:   time.Now,
	}
}

func (s *Store) Save(sessionID string, snap Snapshot) {
	snap.SavedAt = s.now()
	s.cache.Set(sessionID, snap, cache.DefaultExpiration)
}

func (s *Store) Load(sessionID string) (Snapshot, bool) {
	v, ok := s.cache.Get(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

// UpdatePlane replaces the plane of an existing snapshot and refreshes its TTL.
func (s *Store) UpdatePlane(sessionID string, plane model.PlaneState) bool {
	snap, ok := s.Load(sessionID)
	if !ok {
		return false
	}
	snap.Plane = plane
	s.Save(sessionID, snap)
	return true
}

func (s *Store) Delete(sessionID string) {
	s.cache.Delete(sessionID)
}

func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Package session resolves the stable session id a chat client uses across
// restarts.
package session

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Key is the storage key the session id is persisted under.
const Key = "chatSessionId"

// suffixLen is the length of the random base36 part of an id.
const suffixLen = 9

// ID identifies one logical conversation.
type ID string

func (id ID) String() string { return string(id) }

// Storage persists string values by key.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Store hands out the persisted session id, creating it on first use.
type Store struct {
	storage Storage
	now     func() time.Time

	mu       sync.Mutex
	resolved ID
}

// NewStore returns a Store backed by storage. A nil storage puts the store in
// memory-only mode.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage, now: time.Now}
}

// GetOrCreate returns the persisted id, or generates and persists a new one.
// Storage failures degrade to an id that lives as long as the Store.
func (s *Store) GetOrCreate() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != "" {
		return s.resolved
	}

	if s.storage != nil {
		v, ok, err := s.storage.Get(Key)
		if err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("read session id failed, using in-memory id")
		} else if ok && v != "" {
			s.resolved = ID(v)
			return s.resolved
		}
	}

	id := NewID(s.now())
	if s.storage != nil {
		if err := s.storage.Set(Key, string(id)); err != nil {
			log.Warn().Err(err).Str("component", "session").Msg("persist session id failed, using in-memory id")
		}
	}
	s.resolved = id
	log.Debug().Str("component", "session").Str("session_id", string(id)).Msg("created session id")
	return id
}

// NewID builds an id from the wall clock and a random v4 UUID:
// session_<unix-millis>_<9 base36 chars>.
func NewID(now time.Time) ID {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	suffix := n.Text(36)
	if len(suffix) < suffixLen {
		suffix = strings.Repeat("0", suffixLen-len(suffix)) + suffix
	}
	return ID("session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix[len(suffix)-suffixLen:])
}

// MemoryStorage is a map-backed Storage. The zero value is ready to use.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

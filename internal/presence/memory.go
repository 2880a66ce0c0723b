package presence

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a single-process Store with the same expiry semantics as
// RedisStore. Room set entries expire per member.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	users     map[int64]time.Time
	rooms     map[int64]map[int64]time.Time
	conns     map[int64]int64
	roomConns map[int64]map[int64]int64
}

// NewMemoryStore constructs a MemoryStore; a non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:       ttl,
		now:       time.Now,
		users:     make(map[int64]time.Time),
		rooms:     make(map[int64]map[int64]time.Time),
		conns:     make(map[int64]int64),
		roomConns: make(map[int64]map[int64]int64),
	}
}

func (s *MemoryStore) SetOnline(_ context.Context, userID, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(userID, roomID)
	return nil
}

func (s *MemoryStore) markLocked(userID, roomID int64) {
	expires := s.now().Add(s.ttl)
	s.users[userID] = expires
	if roomID == 0 {
		return
	}
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = make(map[int64]time.Time)
	}
	s.rooms[roomID][userID] = expires
}

func (s *MemoryStore) SetOffline(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	delete(s.conns, userID)
	delete(s.roomConns, userID)
	for roomID := range s.rooms {
		s.dropLocked(userID, roomID)
	}
	return nil
}

func (s *MemoryStore) dropLocked(userID, roomID int64) {
	members, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
}

func (s *MemoryStore) IsOnline(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.users[userID]
	return ok && s.now().Before(expires), nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context, roomID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	ids := []int64{}
	for userID, expires := range s.rooms[roomID] {
		if now.Before(expires) {
			ids = append(ids, userID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Retain(_ context.Context, userID, roomID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[userID]++
	if _, ok := s.roomConns[userID]; !ok {
		s.roomConns[userID] = make(map[int64]int64)
	}
	s.roomConns[userID][roomID]++
	return s.conns[userID], nil
}

func (s *MemoryStore) Release(_ context.Context, userID, roomID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[userID] > 0 {
		s.conns[userID]--
	}
	remaining := s.conns[userID]
	if remaining == 0 {
		delete(s.conns, userID)
	}
	if perRoom, ok := s.roomConns[userID]; ok {
		perRoom[roomID]--
		if perRoom[roomID] <= 0 {
			delete(perRoom, roomID)
			s.dropLocked(userID, roomID)
		}
		if len(perRoom) == 0 {
			delete(s.roomConns, userID)
		}
	}
	return remaining, nil
}

func (s *MemoryStore) Touch(_ context.Context, userID, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(userID, roomID)
	return nil
}

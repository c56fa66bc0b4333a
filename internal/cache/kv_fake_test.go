package cache_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/internal/cache"
)

// memStore in-memory Store with TTL
type memStore struct {
	mu       sync.Mutex
	docs     map[string]memDoc
	failSave bool
	saves    int
}

type memDoc struct {
	data    []byte
	ttl     time.Duration
	expires time.Time // zero = no ttl
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]memDoc)}
}

func (s *memStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	if !doc.expires.IsZero() && time.Now().After(doc.expires) {
		delete(s.docs, key)
		return nil, cache.ErrCacheMiss
	}
	return append([]byte(nil), doc.data...), nil
}

func (s *memStore) SaveAll(_ context.Context, docs map[string][]byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave {
		return errors.New("store unavailable")
	}
	s.saves++
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	for key, data := range docs {
		s.docs[key] = memDoc{data: append([]byte(nil), data...), ttl: ttl, expires: exp}
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.docs, key)
	}
	return nil
}

func (s *memStore) ttl(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[key].ttl
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

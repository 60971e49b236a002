package view

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records encoded so readers never share memory with the
// writer and never observe a partially written record.
type MemoryStore[T Document] struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory collection.
func NewMemoryStore[T Document]() *MemoryStore[T] {
	return &MemoryStore[T]{docs: make(map[string][]byte)}
}

func (s *MemoryStore[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.RLock()
	raw, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return decode[T](raw)
}

func (s *MemoryStore[T]) Put(ctx context.Context, doc T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.Key() == "" {
		return fmt.Errorf("put record: empty key")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", doc.Key(), err)
	}

	s.mu.Lock()
	s.docs[doc.Key()] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[T]) List(ctx context.Context, q Query) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	raws := make([][]byte, 0, len(keys))
	for _, k := range keys {
		raws = append(raws, s.docs[k])
	}
	s.mu.RUnlock()

	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		doc, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		if q.matches(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *MemoryStore[T]) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

func decode[T Document](raw []byte) (T, error) {
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

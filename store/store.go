// Package store holds records in memory behind composable predicates.
package store

import (
	"slices"
	"sync"
)

// Pred selects records.
type Pred[V any] func(V) bool

// And matches when every predicate matches. No predicates match everything.
func And[V any](ps ...Pred[V]) Pred[V] {
	return func(v V) bool {
		for _, p := range ps {
			if p != nil && !p(v) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches.
func Or[V any](ps ...Pred[V]) Pred[V] {
	return func(v V) bool {
		for _, p := range ps {
			if p != nil && p(v) {
				return true
			}
		}
		return false
	}
}

func Not[V any](p Pred[V]) Pred[V] {
	return func(v V) bool { return !p(v) }
}

// Keyed maps a key to the latest version of a record and remembers the
// order in which keys first appeared.
type Keyed[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
	keys  []K
}

func NewKeyed[K comparable, V any]() *Keyed[K, V] {
	return &Keyed[K, V]{items: make(map[K]V)}
}

// Put stores v under k, replacing any earlier version.
func (s *Keyed[K, V]) Put(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[k]; !ok {
		s.keys = append(s.keys, k)
	}
	s.items[k] = v
}

func (s *Keyed[K, V]) Get(k K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[k]
	return v, ok
}

func (s *Keyed[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Find returns matching records in first-insertion order.
func (s *Keyed[K, V]) Find(ps ...Pred[V]) []V {
	match := And(ps...)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.keys))
	for _, k := range s.keys {
		if v := s.items[k]; match(v) {
			out = append(out, v)
		}
	}
	return out
}

// Sorted returns matching records ordered by cmp.
func (s *Keyed[K, V]) Sorted(cmp func(a, b V) int, ps ...Pred[V]) []V {
	out := s.Find(ps...)
	slices.SortStableFunc(out, cmp)
	return out
}

// Log is an append-only sequence. Records are never replaced or removed.
type Log[V any] struct {
	mu    sync.RWMutex
	items []V
}

func NewLog[V any]() *Log[V] {
	return &Log[V]{}
}

// Append adds v and returns its 1-based position.
func (l *Log[V]) Append(v V) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, v)
	return int64(len(l.items))
}

// AppendWith builds the record from its position under the write lock, so
// the position can be stamped into the record itself.
func (l *Log[V]) AppendWith(build func(pos int64) (V, error)) (V, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := build(int64(len(l.items)) + 1)
	if err != nil {
		var zero V
		return zero, err
	}
	l.items = append(l.items, v)
	return v, nil
}

func (l *Log[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Find returns a copy of the matching records in append order.
func (l *Log[V]) Find(ps ...Pred[V]) []V {
	match := And(ps...)
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []V
	for _, v := range l.items {
		if match(v) {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the most recent matching record.
func (l *Log[V]) Last(ps ...Pred[V]) (V, bool) {
	match := And(ps...)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.items) - 1; i >= 0; i-- {
		if match(l.items[i]) {
			return l.items[i], true
		}
	}
	var zero V
	return zero, false
}

package embcache

import (
	"container/list"
	"sync"
)

// vectorLRU is a count-bounded LRU over embedding vectors. It sits in
// front of the key-value store so hot query texts skip the network
// round-trip entirely.
type vectorLRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	evicts   *list.List
}

type lruEntry struct {
	key string
	vec []float32
}

func newVectorLRU(capacity int) *vectorLRU {
	return &vectorLRU{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		evicts:   list.New(),
	}
}

func (l *vectorLRU) get(key string) ([]float32, bool) {
	if l.capacity <= 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.evicts.MoveToFront(ent)
	return ent.Value.(*lruEntry).vec, true
}

func (l *vectorLRU) put(key string, vec []float32) {
	if l.capacity <= 0 || vec == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.items[key]; ok {
		ent.Value.(*lruEntry).vec = vec
		l.evicts.MoveToFront(ent)
		return
	}
	for len(l.items) >= l.capacity {
		back := l.evicts.Back()
		if back == nil {
			break
		}
		l.evicts.Remove(back)
		delete(l.items, back.Value.(*lruEntry).key)
	}
	l.items[key] = l.evicts.PushFront(&lruEntry{key: key, vec: vec})
}

func (l *vectorLRU) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps every path in a map. It is the single-node backend and
// the one tests run against.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	subs   map[int]*subscriber
	nextID int
	cleanups
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]json.RawMessage),
		subs:   make(map[int]*subscriber),
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), v...), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := append(json.RawMessage(nil), value...)
	m.values[path] = v
	m.notifyLocked(Change{Path: path, Value: v})
	return nil
}

func (m *MemoryStore) Patch(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.values[path]
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeFields(existing, fields)
	if err != nil {
		return err
	}
	m.values[path] = merged
	m.notifyLocked(Change{Path: path, Value: merged})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[path]; !ok {
		return nil
	}
	delete(m.values, path)
	m.notifyLocked(Change{Path: path, Deleted: true})
	return nil
}

func (m *MemoryStore) DeleteIf(ctx context.Context, path, field string, value any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.values[path]
	if !ok {
		return false, nil
	}
	match, err := fieldEquals(existing, field, value)
	if err != nil || !match {
		return false, err
	}
	delete(m.values, path)
	m.notifyLocked(Change{Path: path, Deleted: true})
	return true, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(Change)) (func(), error) {
	sub := newSubscriber(path, fn)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			sub.close()
		})
	}, nil
}

func (m *MemoryStore) OnDisconnect(ctx context.Context, ownerID, path string, mut Mutation) error {
	m.register(ownerID, path, mut)
	return nil
}

func (m *MemoryStore) CancelOnDisconnect(ctx context.Context, ownerID, path string) error {
	m.cancel(ownerID, path)
	return nil
}

func (m *MemoryStore) Disconnect(ctx context.Context, ownerID string) error {
	return m.run(ctx, m, ownerID)
}

// notifyLocked queues c for every matching subscriber. Queuing under the
// store lock keeps delivery in write order.
func (m *MemoryStore) notifyLocked(c Change) {
	for _, sub := range m.subs {
		if watches(sub.path, c.Path) {
			sub.push(c)
		}
	}
}

// subscriber drains an unbounded queue on its own goroutine so a slow
// callback never blocks writers.
type subscriber struct {
	path   string
	fn     func(Change)
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Change
	closed bool
}

func newSubscriber(path string, fn func(Change)) *subscriber {
	s := &subscriber{path: path, fn: fn}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *subscriber) push(c Change) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, c)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(c)
	}
}

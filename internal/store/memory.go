package store

import (
	"context"
	"sync"
	"sync/atomic"
)

const watchBuffer = 64

// Bus is an in-process backing map shared by any number of Memory handles.
// Each handle behaves like a separate tab: it sees the others' writes as
// changes.
type Bus struct {
	mu   sync.RWMutex
	data map[string][]byte
	subs map[chan Change]string
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		data: make(map[string][]byte),
		subs: make(map[chan Change]string),
	}
}

// Open returns a new handle onto the bus.
func (b *Bus) Open() *Memory {
	return &Memory{bus: b, origin: newOrigin()}
}

// Memory is a Store handle onto a Bus.
type Memory struct {
	bus    *Bus
	origin string
	closed atomic.Bool
}

// NewMemory returns a handle onto a private bus.
func NewMemory() *Memory { return NewBus().Open() }

// Origin identifies the handle's writes.
func (m *Memory) Origin() string { return m.origin }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.bus.mu.RLock()
	defer m.bus.mu.RUnlock()
	v, ok := m.bus.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, entries ...Entry) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	for _, e := range entries {
		m.bus.data[e.Key] = append([]byte(nil), e.Value...)
	}
	for _, e := range entries {
		m.bus.publish(Change{Key: e.Key, Origin: m.origin})
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	if _, ok := m.bus.data[key]; !ok {
		return nil
	}
	delete(m.bus.data, key)
	m.bus.publish(Change{Key: key, Origin: m.origin})
	return nil
}

// Watch subscribes to writes from other handles. Notifications are dropped
// when the subscriber falls more than a buffer behind.
func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	ch := make(chan Change, watchBuffer)
	m.bus.mu.Lock()
	m.bus.subs[ch] = m.origin
	m.bus.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.bus.mu.Lock()
		delete(m.bus.subs, ch)
		close(ch)
		m.bus.mu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// publish must be called with mu held.
func (b *Bus) publish(c Change) {
	for ch, origin := range b.subs {
		if origin == c.Origin {
			continue
		}
		select {
		case ch <- c:
		default:
		}
	}
}

package draft

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// NewMemoryStore returns a process-local Store. Drafts do not survive a restart.
func NewMemoryStore() *Store {
	return newStore("memory", &memoryBackend{items: make(map[string][]byte)}, defaultKey, zerolog.Nop())
}

type memoryBackend struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (b *memoryBackend) get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[key]
	if !ok {
		return nil, errNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *memoryBackend) put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = append([]byte(nil), value...)
	return nil
}

func (b *memoryBackend) del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[key]; !ok {
		return errNotFound
	}
	delete(b.items, key)
	return nil
}

package syncer

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// keyedLock — взаимное исключение по паре (ресторан, платформа).
// Ожидание прерывается отменой контекста; записи удаляются, когда держателей не осталось.
type keyedLock struct {
	mu      sync.Mutex
	entries map[domain.PairKey]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[domain.PairKey]*lockEntry)}
}

// Lock захватывает ключ и возвращает функцию освобождения.
func (l *keyedLock) Lock(ctx context.Context, key domain.PairKey) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

// Locked сообщает, удерживается ли ключ прямо сейчас.
func (l *keyedLock) Locked(key domain.PairKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	return ok && len(entry.ch) > 0
}

func (l *keyedLock) release(key domain.PairKey, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

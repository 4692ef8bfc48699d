package lock

import (
	"context"
	"sync"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// LocalLocker serializes exchanges per conversation inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[domain.ConversationID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ domain.ConversationLocker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[domain.ConversationID]*slot)}
}

// Lock blocks until the conversation is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, id domain.ConversationID) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(id, s)
		})
	}, nil
}

func (l *LocalLocker) release(id domain.ConversationID, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

// size is the number of conversations currently tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

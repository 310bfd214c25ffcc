package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process locker
type MemoryLocker struct {
	opts Options

	mu   sync.Mutex
	keys map[string]*slot
}

// slot is dropped from the map once no holder or waiter references it
type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{opts: opts.withDefaults(), keys: map[string]*slot{}}
}

func (l *MemoryLocker) join(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.keys[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.keys[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) leave(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.keys[key] == s {
		delete(l.keys, key)
	}
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *MemoryLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	slots := make([]*slot, 0, len(keys))
	release := func(context.Context) error {
		for i, s := range slots {
			<-s.ch
			l.leave(held[i], s)
		}
		held, slots = nil, nil
		return nil
	}

	var timer <-chan time.Time
	if l.opts.Mode == ModeWait && l.opts.Timeout > 0 {
		t := time.NewTimer(l.opts.Timeout)
		defer t.Stop()
		timer = t.C
	}

	for _, key := range keys {
		s := l.join(key)
		// a free slot is taken even when ctx is already done
		select {
		case s.ch <- struct{}{}:
			held, slots = append(held, key), append(slots, s)
			continue
		default:
		}
		if l.opts.Mode == ModeFailFast {
			l.leave(key, s)
			_ = release(ctx)
			return nil, ErrLockNotAcquired
		}

		select {
		case s.ch <- struct{}{}:
			held, slots = append(held, key), append(slots, s)
		case <-timer:
			l.leave(key, s)
			_ = release(ctx)
			return nil, ErrLockNotAcquired
		case <-ctx.Done():
			l.leave(key, s)
			_ = release(ctx)
			return nil, ctx.Err()
		}
	}

	return release, nil
}

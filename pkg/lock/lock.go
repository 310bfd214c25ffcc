// Package lock serializes merges per entity
package lock

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or moved
	ErrLockNotHeld = errors.New("lock not held")
)

// Mode decides what Acquire does when a key is held
type Mode string

const (
	ModeWait     Mode = "wait"
	ModeFailFast Mode = "fail_fast"
)

// NoTimeout makes ModeWait wait until the context ends
const NoTimeout time.Duration = -1

// Options configures a locker
type Options struct {
	Mode Mode
	// Timeout bounds the wait in ModeWait. Zero means five seconds.
	Timeout time.Duration
	// TTL bounds how long a distributed lock survives a crashed holder
	TTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeWait
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	return o
}

// Release frees the keys taken by Acquire
type Release func(ctx context.Context) error

// Locker takes exclusive locks on a set of keys
type Locker interface {
	// Acquire takes every key or none. Keys are taken in sorted order.
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}

func backoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 500*time.Millisecond {
		return 500 * time.Millisecond
	}
	return next
}

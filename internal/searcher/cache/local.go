package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	pkgredis "github.com/mrhatman/booksearch/pkg/redis"
)

type localEntry struct {
	value   []byte
	expires time.Time
}

// Local is an in-process LRU backend used when Redis is not configured.
type Local struct {
	mu    sync.Mutex
	cache *lru.Cache[string, localEntry]
	now   func() time.Time
}

func NewLocal(size int) (*Local, error) {
	c, err := lru.New[string, localEntry](size)
	if err != nil {
		return nil, err
	}
	return &Local{cache: c, now: time.Now}, nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := l.cache.Get(key)
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	if !e.expires.IsZero() && l.now().After(e.expires) {
		l.cache.Remove(key)
		return nil, pkgredis.ErrMiss
	}
	return e.value, nil
}

func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := localEntry{value: value}
	if ttl > 0 {
		e.expires = l.now().Add(ttl)
	}
	l.cache.Add(key, e)
	return nil
}

func (l *Local) FlushPrefix(_ context.Context, prefix string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, key := range l.cache.Keys() {
		if strings.HasPrefix(key, prefix) && l.cache.Remove(key) {
			n++
		}
	}
	return n, nil
}

package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Lazy hands out a shared Client, dialing on first use. After a failed dial
// further attempts are suppressed for the backoff window so a down Redis is
// not hammered on every request.
type Lazy struct {
	addr    string
	backoff time.Duration
	opts    []Option

	mu       sync.Mutex
	client   *Client
	lastFail time.Time

	now func() time.Time
}

func NewLazy(addr string, backoff time.Duration, opts ...Option) *Lazy {
	if backoff <= 0 {
		backoff = 15 * time.Second
	}
	return &Lazy{addr: addr, backoff: backoff, opts: opts, now: time.Now}
}

// Get returns the shared client, dialing if needed.
func (l *Lazy) Get(ctx context.Context) (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	if !l.lastFail.IsZero() && l.now().Sub(l.lastFail) < l.backoff {
		return nil, fmt.Errorf("redis dial suppressed until backoff expires (addr=%s)", l.addr)
	}

	c, err := New(ctx, l.addr, l.opts...)
	if err != nil {
		l.lastFail = l.now()
		return nil, fmt.Errorf("redis dial %s: %w", l.addr, err)
	}
	l.client = c
	l.lastFail = time.Time{}
	return c, nil
}

// Ping reports whether Redis is currently reachable, dialing if needed.
func (l *Lazy) Ping(ctx context.Context) error {
	c, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the shared client.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}

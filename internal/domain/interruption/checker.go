// Package interruption lets a streaming loop observe StopGeneration through a
// short-lived cached read of the message status.
//
// The check is level triggered. A stop request becomes visible to the loop
// at most one TTL after it commits, so up to one TTL worth of stream units
// (plus the unit in flight) may still be persisted after the stop.
package interruption

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"bella-server/internal/domain/status"
)

const (
	DefaultTTL     = 150 * time.Millisecond
	DefaultEntries = 4096
)

// StatusReader loads the current status of a message from storage.
type StatusReader interface {
	MessageStatus(ctx context.Context, messageID string) (status.Message, error)
}

type cacheEntry struct {
	status    status.Message
	expiresAt time.Time
}

// Checker answers "was this message interrupted" from a TTL cache.
type Checker struct {
	reader StatusReader
	ttl    time.Duration
	cache  *lru.Cache
	group  singleflight.Group
	now    func() time.Time
	mu     sync.Mutex
}

// NewChecker creates a checker. A zero ttl or entries uses the defaults.
func NewChecker(reader StatusReader, ttl time.Duration, entries int) (*Checker, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if entries <= 0 {
		entries = DefaultEntries
	}
	cache, err := lru.New(entries)
	if err != nil {
		return nil, fmt.Errorf("create interruption cache: %w", err)
	}
	return &Checker{reader: reader, ttl: ttl, cache: cache, now: time.Now}, nil
}

// TTL returns the staleness bound of the check.
func (c *Checker) TTL() time.Duration {
	return c.ttl
}

// IsInterrupted reports whether the message status is INTERRUPTED, reading
// storage at most once per TTL per message.
func (c *Checker) IsInterrupted(ctx context.Context, messageID string) (bool, error) {
	st, err := c.Status(ctx, messageID)
	if err != nil {
		return false, err
	}
	return st == status.MessageInterrupted, nil
}

// Status returns the cached message status, refreshing it when expired.
func (c *Checker) Status(ctx context.Context, messageID string) (status.Message, error) {
	if st, ok := c.cached(messageID); ok {
		return st, nil
	}

	// The load is shared by every caller waiting on messageID, so it must
	// not fail because the first of them went away.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(messageID, func() (interface{}, error) {
		st, err := c.reader.MessageStatus(loadCtx, messageID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(messageID, cacheEntry{status: st, expiresAt: c.clock().Add(c.ttl)})
		return st, nil
	})
	if err != nil {
		return "", fmt.Errorf("read message status: %w", err)
	}
	return v.(status.Message), nil
}

// Forget drops the cached status, e.g. once the stream finished.
func (c *Checker) Forget(messageID string) {
	c.cache.Remove(messageID)
}

func (c *Checker) cached(messageID string) (status.Message, bool) {
	v, ok := c.cache.Get(messageID)
	if !ok {
		return "", false
	}
	entry := v.(cacheEntry)
	if !c.clock().Before(entry.expiresAt) {
		return "", false
	}
	return entry.status, true
}

func (c *Checker) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Checker) setClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

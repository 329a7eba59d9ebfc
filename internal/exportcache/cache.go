// Package exportcache keeps generated journal exports downloadable for a
// limited time. Expired entries are evicted lazily on access.
package exportcache

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an export stays downloadable.
const DefaultTTL = 15 * time.Minute

const tokenBytes = 32

var (
	// ErrNotFound is returned for unknown or evicted export ids.
	ErrNotFound = errors.New("exportcache: export not found")
	// ErrExpired is returned when an entry outlived the TTL.
	ErrExpired = errors.New("exportcache: export expired")
	// ErrTokenMismatch is returned when the download token is wrong.
	ErrTokenMismatch = errors.New("exportcache: invalid download token")
)

// Entry is one cached export.
type Entry struct {
	ID        string
	Token     string
	TenantID  string
	CSV       string
	EntryIDs  []string
	CreatedAt time.Time
}

func (e *Entry) copy() Entry {
	out := *e
	out.EntryIDs = append([]string(nil), e.EntryIDs...)
	return out
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*Entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache whose entries live for ttl. A non-positive ttl uses
// DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl, now: time.Now, entries: make(map[string]*Entry)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Put stores csvText and returns the new entry with its id and download
// token.
func (c *Cache) Put(tenantID, csvText string, entryIDs []string) (Entry, error) {
	token, err := newToken()
	if err != nil {
		return Entry{}, fmt.Errorf("Put: %w", err)
	}

	now := c.now()
	e := &Entry{
		ID:        uuid.NewString(),
		Token:     token,
		TenantID:  tenantID,
		CSV:       csvText,
		EntryIDs:  append([]string(nil), entryIDs...),
		CreatedAt: now,
	}

	c.mu.Lock()
	c.evictLocked(now)
	c.entries[e.ID] = e
	c.mu.Unlock()

	return e.copy(), nil
}

// Get returns the entry when it exists, has not expired and token matches.
func (c *Cache) Get(id, token string) (Entry, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		c.evictLocked(now)
		return Entry{}, ErrNotFound
	}
	if c.expired(e, now) {
		delete(c.entries, id)
		c.evictLocked(now)
		return Entry{}, ErrExpired
	}
	c.evictLocked(now)
	if subtle.ConstantTimeCompare([]byte(e.Token), []byte(token)) != 1 {
		return Entry{}, ErrTokenMismatch
	}
	return e.copy(), nil
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(now)
	return len(c.entries)
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > c.ttl
}

func (c *Cache) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, id)
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

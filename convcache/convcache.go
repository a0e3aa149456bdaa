// Package convcache remembers, per Telegram user, which backend conversation
// the next message continues.
//
// Entries live for a fixed time after they were created or last stored, and
// the cache holds a bounded number of them. Expiry is lazy: nothing runs in
// the background, stale entries are dropped when touched or when room is
// needed.
package convcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oppen/gptrelay/clock"
)

const (
	DefaultMaxEntries = 1000
	DefaultTTL        = 30 * time.Minute
)

// Entry holds the continuity tokens for one user. An empty ConversationID
// means the user has no backend conversation yet.
type Entry struct {
	ConversationID string `json:"conversation_id"`
	ParentID       string `json:"parent_id"`
}

type item struct {
	user     int64
	entry    Entry
	storedAt time.Time
}

type Cache struct {
	mx    sync.Mutex
	items map[int64]*list.Element
	// Oldest store at the front.
	order    *list.List
	maxLen   int
	ttl      time.Duration
	clock    clock.Clock
	newToken func() string
}

type Option func(*Cache)

func WithClock(c clock.Clock) Option {
	return func(cc *Cache) { cc.clock = c }
}

func WithTokenSource(f func() string) Option {
	return func(cc *Cache) { cc.newToken = f }
}

// New returns a cache holding at most maxLen entries, each valid for ttl.
// Non-positive values select the defaults.
func New(maxLen int, ttl time.Duration, opts ...Option) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		items:    make(map[int64]*list.Element),
		order:    list.New(),
		maxLen:   maxLen,
		ttl:      ttl,
		clock:    clock.Real{},
		newToken: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the live entry for user, creating one with no
// conversation and a fresh parent token if there is none.
func (c *Cache) GetOrCreate(user int64) Entry {
	c.mx.Lock()
	defer c.mx.Unlock()

	now := c.clock.Now()
	if e, ok := c.lookup(user, now); ok {
		return e.Value.(*item).entry
	}
	entry := Entry{ParentID: c.newToken()}
	c.store(user, entry, now)
	return entry
}

// Put overwrites the entry for user and restarts its lifetime.
func (c *Cache) Put(user int64, entry Entry) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.store(user, entry, c.clock.Now())
}

// Forget drops the entry for user and returns it if it was still live.
func (c *Cache) Forget(user int64) (Entry, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()

	e, ok := c.lookup(user, c.clock.Now())
	if !ok {
		return Entry{}, false
	}
	c.remove(e)
	return e.Value.(*item).entry, true
}

// Len counts live entries.
func (c *Cache) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.purge(c.clock.Now())
	return c.order.Len()
}

func (c *Cache) lookup(user int64, now time.Time) (*list.Element, bool) {
	e, ok := c.items[user]
	if !ok {
		return nil, false
	}
	if c.expired(e.Value.(*item), now) {
		c.remove(e)
		return nil, false
	}
	return e, true
}

func (c *Cache) store(user int64, entry Entry, now time.Time) {
	if e, ok := c.items[user]; ok {
		it := e.Value.(*item)
		it.entry = entry
		it.storedAt = now
		c.order.MoveToBack(e)
		return
	}
	if c.order.Len() >= c.maxLen {
		c.purge(now)
	}
	for c.order.Len() >= c.maxLen {
		c.remove(c.order.Front())
	}
	c.items[user] = c.order.PushBack(&item{user: user, entry: entry, storedAt: now})
}

// purge drops expired entries. Since the list is ordered by store time it
// stops at the first live one.
func (c *Cache) purge(now time.Time) {
	for e := c.order.Front(); e != nil; e = c.order.Front() {
		if !c.expired(e.Value.(*item), now) {
			return
		}
		c.remove(e)
	}
}

func (c *Cache) expired(it *item, now time.Time) bool {
	return now.Sub(it.storedAt) > c.ttl
}

func (c *Cache) remove(e *list.Element) {
	c.order.Remove(e)
	delete(c.items, e.Value.(*item).user)
}

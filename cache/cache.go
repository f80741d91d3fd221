// Package cache keeps recent successful fetch responses in memory so repeated
// requests for the same page can skip the browser.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/pagegate/models"
)

const sweepInterval = 5 * time.Minute

type entry struct {
	key       string
	response  models.FetchResponse
	createdAt time.Time
}

// Cache holds at most maxEntries responses, evicting the oldest first.
// It is safe for concurrent use; a nil *Cache never hits.
type Cache struct {
	mu         sync.Mutex
	index      map[string]*list.Element
	order      *list.List // front is newest
	maxEntries int
	retention  time.Duration
	now        func() time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a Cache. Entries older than retention are swept every five
// minutes until Close; retention <= 0 disables the sweep.
func New(maxEntries int, retention time.Duration) *Cache {
	c := &Cache{
		index:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		retention:  retention,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if retention > 0 {
		go c.sweepLoop()
	}
	return c
}

// Key identifies a page and whether it was fetched with anti-bot handling.
// Responses captured without the taint scan never satisfy an anti-bot
// request. Scheme and host case and the fragment do not affect the key.
func Key(rawURL string, antiBot bool) string {
	h := sha256.New()
	h.Write([]byte(normalize(rawURL)))
	if antiBot {
		h.Write([]byte("|anti-bot"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Get returns a copy of the response stored under key when it is at most
// maxAgeMs milliseconds old. maxAgeMs <= 0 disables the lookup. Hits carry
// CacheStatus "hit" and no attempt history.
func (c *Cache) Get(key string, maxAgeMs int64) (*models.FetchResponse, bool) {
	if c == nil || maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.Lock()
	el, ok := c.index[key]
	var e entry
	if ok {
		e = *el.Value.(*entry)
	}
	c.mu.Unlock()

	if !ok || c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}

	resp := e.response
	resp.Attempts = nil
	resp.CacheStatus = "hit"
	return &resp, true
}

// Set stores a copy of a successful response, replacing any entry under the
// same key. Failed responses are ignored.
func (c *Cache) Set(key string, resp *models.FetchResponse) {
	if c == nil || c.maxEntries <= 0 || resp == nil || !resp.Success {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Back())
	}
	c.index[key] = c.order.PushFront(&entry{
		key:       key,
		response:  *resp,
		createdAt: c.now(),
	})
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close stops the sweep goroutine.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictOlderThan(c.retention)
		}
	}
}

// evictOlderThan walks from the oldest entry and stops at the first one
// young enough to keep.
func (c *Cache) evictOlderThan(age time.Duration) int {
	cutoff := c.now().Add(-age)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.order.Back(); el != nil; el = c.order.Back() {
		if !el.Value.(*entry).createdAt.Before(cutoff) {
			break
		}
		c.removeLocked(el)
		n++
	}
	return n
}

func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

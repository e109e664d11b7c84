package mesh

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	key      string
	markedAt time.Time
}

// seenCache remembers envelope ids for a window so redelivered envelopes
// are handled once. Oldest entries are dropped first, by age or by size.
type seenCache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
}

func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// checkAndMark returns true if key was already seen inside the window.
// Otherwise it records key and returns false.
func (c *seenCache) checkAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.expireLocked(now)

	if _, ok := c.index[key]; ok {
		return true
	}
	for c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(seenEntry{key: key, markedAt: now})
	return false
}

func (c *seenCache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(seenEntry).markedAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *seenCache) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	c.order.Remove(e)
	delete(c.index, e.Value.(seenEntry).key)
}

func (c *seenCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Package bridge buffers student-facing output between the student agent
// and HTTP readers.
package bridge

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
)

const (
	defaultMaxEntries = 50
	defaultRetention  = 10 * time.Second
)

// Buffer keeps recent output per student. Ordinals are global and strictly
// increasing, so a reader can resume with the last ordinal it saw.
type Buffer struct {
	mu         sync.Mutex
	queues     map[string]*list.List // studentID -> *domain.OutputEntry
	maxEntries int
	retention  time.Duration
	ordinal    int64
	changed    chan struct{}
	now        func() time.Time
}

// NewBuffer returns a buffer keeping at most maxEntries per student for
// retention.
func NewBuffer(maxEntries int, retention time.Duration) *Buffer {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Buffer{
		queues:     make(map[string]*list.List),
		maxEntries: maxEntries,
		retention:  retention,
		changed:    make(chan struct{}),
		now:        time.Now,
	}
}

// Append stores e, assigning its ordinal and timestamp, and wakes waiters.
func (b *Buffer) Append(e domain.OutputEntry) domain.OutputEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ordinal++
	e.Ordinal = b.ordinal
	e.CreatedAt = b.now()

	l, ok := b.queues[e.StudentID]
	if !ok {
		l = list.New()
		b.queues[e.StudentID] = l
	}
	stored := e
	l.PushBack(&stored)
	// Evict only within this student's queue.
	for l.Len() > b.maxEntries {
		l.Remove(l.Front())
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return e
}

// Since returns the student's unexpired entries with an ordinal above after,
// oldest first.
func (b *Buffer) Since(studentID string, after int64) []domain.OutputEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(studentID, after)
}

func (b *Buffer) sinceLocked(studentID string, after int64) []domain.OutputEntry {
	l, ok := b.queues[studentID]
	if !ok {
		return nil
	}
	cutoff := b.now().Add(-b.retention)
	var out []domain.OutputEntry
	for el := l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*domain.OutputEntry)
		if e.Ordinal > after && e.CreatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	return out
}

// Changed returns a channel closed on the next Append.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// Latest returns the highest ordinal issued so far.
func (b *Buffer) Latest() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ordinal
}

// Sweep drops expired entries and empty queues. It returns the number of
// entries removed.
func (b *Buffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.retention)
	removed := 0
	for id, l := range b.queues {
		for el := l.Front(); el != nil; {
			next := el.Next()
			if !el.Value.(*domain.OutputEntry).CreatedAt.After(cutoff) {
				l.Remove(el)
				removed++
			}
			el = next
		}
		if l.Len() == 0 {
			delete(b.queues, id)
		}
	}
	return removed
}

// Students returns the number of students with buffered output.
func (b *Buffer) Students() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}

// Conclusion returns the first entry that answers the request identified by
// correlationID: a Feedback, Error or Question carrying that id. Entries for
// other requests of the same student never conclude it.
func Conclusion(entries []domain.OutputEntry, correlationID string) (domain.OutputEntry, bool) {
	for _, e := range entries {
		if e.CorrelationID != correlationID {
			continue
		}
		if e.Kind.Terminal() || (e.Kind == domain.EntryQuestion && correlationID != "") {
			return e, true
		}
	}
	return domain.OutputEntry{}, false
}

// ForRequest returns the entries carrying correlationID, in order.
func ForRequest(entries []domain.OutputEntry, correlationID string) []domain.OutputEntry {
	var out []domain.OutputEntry
	for _, e := range entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// Conclusive reports whether entries contain a Conclusion.
func Conclusive(entries []domain.OutputEntry, correlationID string) bool {
	_, ok := Conclusion(entries, correlationID)
	return ok
}

// Await polls for the student's entries above since until they are
// conclusive for correlationID, ctx ends or deadline passes. The boolean is
// false when the wait ended without a conclusive entry.
func (b *Buffer) Await(ctx context.Context, studentID, correlationID string, since int64, deadline, interval time.Duration) ([]domain.OutputEntry, bool) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		changed := b.Changed()
		entries := b.Since(studentID, since)
		if Conclusive(entries, correlationID) {
			return entries, true
		}
		select {
		case <-changed:
		case <-ticker.C:
		case <-timer.C:
			return b.Since(studentID, since), false
		case <-ctx.Done():
			return b.Since(studentID, since), false
		}
	}
}

// Package knowledge answers question lookups for the tutor.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/store"
)

// Source looks up a question by subject and level. It returns an error
// wrapping store.ErrNotFound when the pair has no question.
type Source interface {
	Lookup(ctx context.Context, subject, level string) (*domain.QuestionRecord, error)
}

// MemorySource is a Source backed by a slice, used in tests.
type MemorySource struct {
	mu        sync.RWMutex
	questions []domain.QuestionRecord
}

// NewMemorySource returns a source serving qs in order.
func NewMemorySource(qs ...domain.QuestionRecord) *MemorySource {
	return &MemorySource{questions: append([]domain.QuestionRecord(nil), qs...)}
}

// Add appends a question.
func (m *MemorySource) Add(q domain.QuestionRecord) {
	m.mu.Lock()
	m.questions = append(m.questions, q)
	m.mu.Unlock()
}

func (m *MemorySource) Lookup(_ context.Context, subject, level string) (*domain.QuestionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subject, level = strings.TrimSpace(subject), strings.TrimSpace(level)
	for _, q := range m.questions {
		if strings.EqualFold(q.Subject, subject) && strings.EqualFold(q.Level, level) {
			out := q
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, subject, level)
}

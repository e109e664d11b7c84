// Package store provides the curriculum repository and its seed data.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/tutormesh/internal/domain"
)

// ErrNotFound is returned when no question matches a subject and level.
var ErrNotFound = errors.New("question not found")

// Repository defines the interface for reading and maintaining curriculum questions.
type Repository interface {
	// Lookup returns the question for subject and level. Matching ignores
	// case and always returns the same record for the same pair.
	Lookup(ctx context.Context, subject, level string) (*domain.QuestionRecord, error)

	// UpsertQuestion inserts a question or updates the one with the same
	// subject, level and prompt.
	UpsertQuestion(ctx context.Context, q domain.QuestionRecord) error

	// ListPairs returns every (subject, level) pair that has a question.
	ListPairs(ctx context.Context) ([][2]string, error)

	// Count returns the number of stored questions.
	Count(ctx context.Context) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

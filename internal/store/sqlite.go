package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY during seeding
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL COLLATE NOCASE,
		level TEXT NOT NULL COLLATE NOCASE,
		topic TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		answer TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(subject, level, prompt)
	);
	CREATE INDEX IF NOT EXISTS idx_questions_pair ON questions(subject, level);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Lookup retrieves the first question stored for subject and level.
func (s *SQLiteStore) Lookup(ctx context.Context, subject, level string) (*domain.QuestionRecord, error) {
	query := `
		SELECT subject, level, topic, prompt, answer, explanation
		FROM questions
		WHERE subject = ? AND level = ?
		ORDER BY id
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(subject), strings.TrimSpace(level))

	var q domain.QuestionRecord
	err := row.Scan(&q.Subject, &q.Level, &q.Topic, &q.PromptText, &q.ExpectedAnswer, &q.Explanation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, subject, level)
	}
	if err != nil {
		return nil, fmt.Errorf("scan question row: %w", err)
	}
	return &q, nil
}

// UpsertQuestion creates or updates a question.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) UpsertQuestion(ctx context.Context, q domain.QuestionRecord) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.upsertQuestionOnce(ctx, q)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
			slog.Debug("UpsertQuestion hit a locked database, retrying",
				"subject", q.Subject,
				"level", q.Level,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return fmt.Errorf("upsert question %s/%s after %d attempts: %w", q.Subject, q.Level, i+1, err)
	}
	return nil
}

func (s *SQLiteStore) upsertQuestionOnce(ctx context.Context, q domain.QuestionRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO questions (subject, level, topic, prompt, answer, explanation, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(subject, level, prompt) DO UPDATE SET
		topic = excluded.topic,
		answer = excluded.answer,
		explanation = excluded.explanation,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, query,
		q.Subject, q.Level, q.Topic, q.PromptText, q.ExpectedAnswer, q.Explanation,
		now, now,
	)
	return err
}

// ListPairs returns the distinct subject/level pairs in insertion order.
func (s *SQLiteStore) ListPairs(ctx context.Context) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, level FROM questions
		GROUP BY subject, level
		ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var p [2]string
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// Count returns the number of stored questions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package transcript writes per-student NDJSON transcripts of the envelopes
// delivered between agents.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one transcript line.
type Event struct {
	Timestamp     time.Time     `json:"ts"`
	StudentID     string        `json:"student_id"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Kind          protocol.Kind `json:"kind"`
	Sender        string        `json:"sender"`
	Recipient     string        `json:"recipient"`
	ContentRaw    string        `json:"content_raw"`
	Content       string        `json:"content"`
}

// Logger records transcript events.
type Logger interface {
	Log(e Event)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// New returns a Logger. A disabled config yields a logger that discards.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
		logger: logger.With("component", "transcript"),
	}
	go l.run()
	return l, nil
}

type fileLogger struct {
	dir    string
	queue  chan Event
	files  map[string]*os.File
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// Log enqueues e. Events are dropped when the queue is full.
func (l *fileLogger) Log(e Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Content == "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("transcript queue full, event dropped", "student_id", e.StudentID, "kind", e.Kind)
	}
}

// Close flushes queued events and closes all files.
func (l *fileLogger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Warn("failed to write transcript event", "student_id", e.StudentID, "error", err)
		}
	}
	for id, f := range l.files {
		if err := f.Close(); err != nil {
			l.logger.Debug("failed to close transcript file", "student_id", id, "error", err)
		}
	}
}

func (l *fileLogger) write(e Event) error {
	f, err := l.file(e.StudentID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (l *fileLogger) file(studentID string) (*os.File, error) {
	name := safeName(studentID)
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	l.files[name] = f
	return f, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeName(studentID string) string {
	name := unsafeName.ReplaceAllString(studentID, "_")
	if name == "" || strings.Trim(name, ".") == "" {
		return "unknown"
	}
	return name
}

var (
	ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
)

// cleanForReadability strips terminal escapes and collapses whitespace.
func cleanForReadability(s string) string {
	s = ansiOSC.ReplaceAllString(s, "")
	s = ansiCSI.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Tap returns a router tap that records every delivered envelope carrying a
// student id.
func Tap(l Logger) mesh.Tap {
	return func(env mesh.Envelope) {
		if env.StudentID == "" || env.Kind() == protocol.KindTimerFired {
			return
		}
		raw, err := protocol.Encode(env.Payload)
		if err != nil {
			return
		}
		l.Log(Event{
			Timestamp:     env.SentAt,
			StudentID:     env.StudentID,
			CorrelationID: env.CorrelationID,
			Kind:          env.Kind(),
			Sender:        env.Sender.Address,
			Recipient:     env.Recipient.Address,
			ContentRaw:    string(raw),
			Content:       summarize(env.Payload),
		})
	}
}

func summarize(p protocol.Payload) string {
	var text string
	switch v := p.(type) {
	case protocol.UserInput:
		text = v.Text
	case protocol.SubjectChoice:
		text = v.Subject
	case protocol.LevelChoice:
		text = v.Level
	case protocol.LessonRequest:
		text = v.Subject + ":" + v.Level
	case protocol.AnswerSubmission:
		text = v.Answer
	case protocol.DiagnosticRequest:
		text = v.Challenge
	case protocol.KnowledgeQuery:
		text = v.Subject + "/" + v.Level
	case protocol.KnowledgeResult:
		if v.Question != nil {
			text = v.Question.PromptText
		} else {
			text = "not found " + v.Reason
		}
	case protocol.DiagnosticResult:
		text = v.Recommendation.Subject + "/" + v.Recommendation.Level + " " + v.Recommendation.Rationale
	case protocol.Prompt:
		text = v.Text
	case protocol.QuestionDelivered:
		text = v.Question.PromptText
	case protocol.Feedback:
		text = v.Text
	case protocol.Error:
		text = string(v.Code) + " " + v.Text
	}
	return cleanForReadability(text)
}

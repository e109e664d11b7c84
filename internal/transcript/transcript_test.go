package transcript

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/mesh"
	"github.com/ashureev/tutormesh/internal/protocol"
)

func TestLoggerWritesPerStudentNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		StudentID:  "student-1",
		Kind:       protocol.KindFeedback,
		ContentRaw: "\x1b[32mCorrect!\x1b[0m   The answer is 12.",
	})

	line := waitForLogLine(t, filepath.Join(dir, "student-1.ndjson"))
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "Correct! The answer is 12." {
		t.Fatalf("unexpected cleaned content: %q", got.Content)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestTapRecordsEnvelopes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tap := Tap(logger)

	student := domain.AgentIdentity{Role: domain.RoleStudent, Address: "student-1"}
	tutor := domain.AgentIdentity{Role: domain.RoleTutor, Address: "tutor-1"}
	tap(mesh.NewEnvelope(student, tutor, "../alice", "c1", protocol.AnswerSubmission{Answer: "Paris"}))
	tap(mesh.NewEnvelope(tutor, tutor, "", "c2", protocol.HistoryRequest{}))

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".._alice.ndjson"))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != protocol.KindAnswerSubmission || got.Content != "Paris" || got.CorrelationID != "c1" {
		t.Errorf("unexpected event: %+v", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("envelopes without a student id must not be recorded, files=%d", len(entries))
	}
}

func TestDisabledLoggerDiscards(t *testing.T) {
	logger, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Log(Event{StudentID: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\x1b]0;title\x07"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b") {
		t.Fatalf("expected escape sequences to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}

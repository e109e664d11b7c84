package domain

import (
	"strconv"
	"strings"
	"time"
)

// QuestionRecord is a single prompt/answer pair from the curriculum.
type QuestionRecord struct {
	Subject        string `json:"subject" yaml:"subject"`
	Level          string `json:"level" yaml:"level"`
	Topic          string `json:"topic,omitempty" yaml:"topic"`
	PromptText     string `json:"prompt_text" yaml:"prompt"`
	ExpectedAnswer string `json:"expected_answer" yaml:"answer"`
	Explanation    string `json:"explanation,omitempty" yaml:"explanation"`
}

// Grade reports whether answer matches the expected answer, ignoring case
// and surrounding whitespace.
func (q QuestionRecord) Grade(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.ExpectedAnswer))
}

// HistoryEntry records one graded answer.
type HistoryEntry struct {
	Question        QuestionRecord `json:"question"`
	SubmittedAnswer string         `json:"submitted_answer"`
	Correct         bool           `json:"correct"`
	Ordinal         int            `json:"ordinal"`
	AnsweredAt      time.Time      `json:"answered_at"`
}

// Subjects is the menu of subjects offered to students, in menu order.
var Subjects = []string{
	"Math", "History", "Science", "English", "Geography",
	"Literature", "Physics", "Computer Science", "Art History",
}

// Levels is the menu of difficulty levels, in menu order.
var Levels = []string{"Beginner", "Intermediate", "Advanced"}

// CanonicalSubject maps a case-insensitive subject name to its catalog spelling.
func CanonicalSubject(s string) (string, bool) {
	return lookupCatalog(Subjects, s)
}

// CanonicalLevel maps a case-insensitive level name to its catalog spelling.
func CanonicalLevel(s string) (string, bool) {
	return lookupCatalog(Levels, s)
}

// SubjectByNumber returns the subject for a 1-based menu number.
func SubjectByNumber(s string) (string, bool) {
	return byNumber(Subjects, s)
}

// LevelByNumber returns the level for a 1-based menu number.
func LevelByNumber(s string) (string, bool) {
	return byNumber(Levels, s)
}

func lookupCatalog(catalog []string, s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, c := range catalog {
		if strings.EqualFold(c, s) {
			return c, true
		}
	}
	return "", false
}

func byNumber(catalog []string, s string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > len(catalog) {
		return "", false
	}
	return catalog[n-1], true
}

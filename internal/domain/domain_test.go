package domain

import "testing"

func TestGradeIgnoresCaseAndWhitespace(t *testing.T) {
	q := QuestionRecord{ExpectedAnswer: "Paris"}
	cases := map[string]bool{
		" Paris ": true,
		"paris":   true,
		"PARIS\n": true,
		"Lyon":    false,
		"":        false,
		"Par is":  false,
	}
	for answer, want := range cases {
		if got := q.Grade(answer); got != want {
			t.Errorf("Grade(%q) = %v, want %v", answer, got, want)
		}
	}
}

func TestRecordAnswerAppendsInOrder(t *testing.T) {
	s := NewSession("s1")
	answers := []string{"12", "13", " 12 "}
	for _, a := range answers {
		s.CurrentQuestion = &QuestionRecord{Subject: "Math", Level: "Beginner", ExpectedAnswer: "12"}
		s.RecordAnswer(a)
	}

	if len(s.History) != len(answers) {
		t.Fatalf("expected %d entries, got %d", len(answers), len(s.History))
	}
	wantCorrect := []bool{true, false, true}
	for i, h := range s.History {
		if h.Ordinal != i+1 {
			t.Errorf("entry %d: ordinal %d", i, h.Ordinal)
		}
		if h.SubmittedAnswer != answers[i] {
			t.Errorf("entry %d: answer %q", i, h.SubmittedAnswer)
		}
		if h.Correct != wantCorrect[i] {
			t.Errorf("entry %d: correct %v", i, h.Correct)
		}
	}

	snap := s.HistorySnapshot()
	snap[0].Correct = false
	if !s.History[0].Correct {
		t.Fatal("snapshot must not alias session history")
	}

	if c, total := s.Score(); c != 2 || total != 3 {
		t.Fatalf("Score() = %d/%d", c, total)
	}
}

func TestCatalogLookup(t *testing.T) {
	if s, ok := CanonicalSubject("  computer science "); !ok || s != "Computer Science" {
		t.Fatalf("CanonicalSubject = %q, %v", s, ok)
	}
	if _, ok := CanonicalSubject("Latin"); ok {
		t.Fatal("Latin must not be a known subject")
	}
	if s, ok := SubjectByNumber("9"); !ok || s != "Art History" {
		t.Fatalf("SubjectByNumber(9) = %q, %v", s, ok)
	}
	if _, ok := SubjectByNumber("10"); ok {
		t.Fatal("10 is out of range")
	}
	if l, ok := LevelByNumber("3"); !ok || l != "Advanced" {
		t.Fatalf("LevelByNumber(3) = %q, %v", l, ok)
	}
}

func TestParseRoleAndEndpoint(t *testing.T) {
	r, err := ParseRole("AI-Assessment")
	if err != nil || r != RoleAIAssessment {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("janitor"); err == nil {
		t.Fatal("expected error for unknown role")
	}

	id := AgentIdentity{Role: RoleTutor, Address: "tutor-abc@127.0.0.1:7001"}
	ep, ok := id.Endpoint()
	if !ok || ep != "127.0.0.1:7001" {
		t.Fatalf("Endpoint = %q, %v", ep, ok)
	}
	if _, ok := EndpointOf("tutor-abc"); ok {
		t.Fatal("local address has no endpoint")
	}
}

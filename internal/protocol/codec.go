package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when decoding a payload of an unregistered kind.
var ErrUnknownKind = errors.New("unknown payload kind")

type wirePayload struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Encode marshals p together with its kind tag.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("encode payload: nil payload")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return json.Marshal(wirePayload{Kind: p.Kind(), Body: body})
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	p, err := newPayload(w.Kind)
	if err != nil {
		return nil, err
	}
	if len(w.Body) > 0 {
		if err := json.Unmarshal(w.Body, p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", w.Kind, err)
		}
	}
	return deref(p), nil
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindSubjectChoice:
		return &SubjectChoice{}, nil
	case KindLevelChoice:
		return &LevelChoice{}, nil
	case KindLessonRequest:
		return &LessonRequest{}, nil
	case KindAnswerSubmission:
		return &AnswerSubmission{}, nil
	case KindHistoryRequest:
		return &HistoryRequest{}, nil
	case KindDiagnosticRequest:
		return &DiagnosticRequest{}, nil
	case KindKnowledgeQuery:
		return &KnowledgeQuery{}, nil
	case KindKnowledgeResult:
		return &KnowledgeResult{}, nil
	case KindDiagnosticResult:
		return &DiagnosticResult{}, nil
	case KindPrompt:
		return &Prompt{}, nil
	case KindQuestionDelivered:
		return &QuestionDelivered{}, nil
	case KindFeedback:
		return &Feedback{}, nil
	case KindError:
		return &Error{}, nil
	case KindTimerFired:
		return &TimerFired{}, nil
	case KindUserInput:
		return &UserInput{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

// deref turns the pointer used for unmarshalling back into the value type
// handlers switch on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *SubjectChoice:
		return *v
	case *LevelChoice:
		return *v
	case *LessonRequest:
		return *v
	case *AnswerSubmission:
		return *v
	case *HistoryRequest:
		return *v
	case *DiagnosticRequest:
		return *v
	case *KnowledgeQuery:
		return *v
	case *KnowledgeResult:
		return *v
	case *DiagnosticResult:
		return *v
	case *Prompt:
		return *v
	case *QuestionDelivered:
		return *v
	case *Feedback:
		return *v
	case *Error:
		return *v
	case *TimerFired:
		return *v
	case *UserInput:
		return *v
	}
	return p
}

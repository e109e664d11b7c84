package protocol

import (
	"errors"
	"testing"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReturnsValueTypes(t *testing.T) {
	correct := true
	in := Feedback{
		Text:    "Correct!",
		Correct: &correct,
		History: []domain.HistoryEntry{{SubmittedAnswer: "12", Correct: true, Ordinal: 1}},
		Recommendation: &domain.Recommendation{
			Subject: "Math", Level: "Beginner", Mock: true,
		},
		Status: domain.StateIdle,
	}

	data, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"FEEDBACK"`)

	out, err := Decode(data)
	require.NoError(t, err)

	fb, ok := out.(Feedback)
	require.True(t, ok, "expected Feedback value, got %T", out)
	require.NotNil(t, fb.Correct)
	assert.True(t, *fb.Correct)
	assert.Equal(t, in.History, fb.History)
	assert.Equal(t, "Math", fb.Recommendation.Subject)
	assert.Equal(t, domain.StateIdle, fb.Status)
}

func TestDecodeEmptyBody(t *testing.T) {
	out, err := Decode([]byte(`{"kind":"HISTORY_REQUEST"}`))
	require.NoError(t, err)
	assert.Equal(t, HistoryRequest{}, out)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"TELEPORT","body":{}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestEncodeNil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

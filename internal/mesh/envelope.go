// Package mesh routes envelopes between agents and runs their mailboxes.
package mesh

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/protocol"
	"github.com/google/uuid"
)

// Envelope is the addressed unit of delivery. It is not modified after Send.
type Envelope struct {
	ID            string
	Sender        domain.AgentIdentity
	Recipient     domain.AgentIdentity
	CorrelationID string
	StudentID     string
	SentAt        time.Time
	Payload       protocol.Payload
}

// NewEnvelope stamps a fresh id and send time.
func NewEnvelope(sender, recipient domain.AgentIdentity, studentID, correlationID string, p protocol.Payload) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Sender:        sender,
		Recipient:     recipient,
		CorrelationID: correlationID,
		StudentID:     studentID,
		SentAt:        time.Now().UTC(),
		Payload:       p,
	}
}

// Kind returns the payload kind, or "" for an empty envelope.
func (e Envelope) Kind() protocol.Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type wireEnvelope struct {
	ID            string               `json:"id"`
	Sender        domain.AgentIdentity `json:"sender"`
	Recipient     domain.AgentIdentity `json:"recipient"`
	CorrelationID string               `json:"correlation_id,omitempty"`
	StudentID     string               `json:"student_id,omitempty"`
	SentAt        time.Time            `json:"sent_at"`
	Payload       json.RawMessage      `json:"payload"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := protocol.Encode(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("envelope %s: %w", e.ID, err)
	}
	return json.Marshal(wireEnvelope{
		ID:            e.ID,
		Sender:        e.Sender,
		Recipient:     e.Recipient,
		CorrelationID: e.CorrelationID,
		StudentID:     e.StudentID,
		SentAt:        e.SentAt,
		Payload:       payload,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := protocol.Decode(w.Payload)
	if err != nil {
		return fmt.Errorf("envelope %s: %w", w.ID, err)
	}
	*e = Envelope{
		ID:            w.ID,
		Sender:        w.Sender,
		Recipient:     w.Recipient,
		CorrelationID: w.CorrelationID,
		StudentID:     w.StudentID,
		SentAt:        w.SentAt,
		Payload:       p,
	}
	return nil
}

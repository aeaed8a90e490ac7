// Package transport delivers messages between agents. The in-process
// implementation backs tests and single-binary deployments; the Redis
// Streams implementation gives at-least-once delivery across processes.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType names the payload carried by a message.
type MessageType string

const (
	ReleaseEvent        MessageType = "release_event"
	VerificationRequest MessageType = "verification_request"
	VerificationResult  MessageType = "verification_result"
	PatchRequest        MessageType = "patch_request"
	Heartbeat           MessageType = "heartbeat"
)

// Message is the envelope delivered to a subscriber.
type Message struct {
	ID      string          `json:"id"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewMessage encodes payload into a new envelope.
func NewMessage(from, to string, t MessageType, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Message{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Type:    t,
		Payload: raw,
		SentAt:  time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Handler processes one message. Returning a transient error asks a
// redelivering transport to keep the message.
type Handler func(ctx context.Context, msg Message) error

// Subscription is an active consumer of one identity's inbox.
type Subscription interface {
	// Close stops delivery and waits for an in-flight handler to return.
	Close() error
}

// Transport moves envelopes between identities.
type Transport interface {
	// Publish queues msg for msg.To. It never waits for the recipient.
	Publish(ctx context.Context, msg Message) error

	// Subscribe starts delivering identity's inbox to h, one message at a
	// time, until ctx is cancelled or the subscription is closed.
	Subscribe(ctx context.Context, identity string, h Handler) (Subscription, error)

	// Close releases transport resources.
	Close() error
}

// Payloads

// VerificationRequestPayload asks a verifier to re-check an incident.
type VerificationRequestPayload struct {
	IncidentID   string          `json:"incidentId"`
	CredentialID string          `json:"credentialId"`
	Release      json.RawMessage `json:"release"`
}

// VerificationResultPayload tells CI agents about a verdict.
type VerificationResultPayload struct {
	IncidentID         string `json:"incidentId"`
	PackageName        string `json:"packageName"`
	Version            string `json:"version"`
	Verdict            string `json:"verdict"`
	CredentialID       string `json:"credentialId"`
	AttestationID      string `json:"attestationId,omitempty"`
	AttestationVersion string `json:"attestationVersion,omitempty"`
}

// PatchRequestPayload asks a patch planner to plan remediation.
type PatchRequestPayload struct {
	IncidentID  string `json:"incidentId"`
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
}

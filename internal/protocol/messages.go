// Package protocol defines the WebSocket message types for client ↔ server
// communication. All messages are JSON-encoded and wrapped in an Envelope
// for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the WebSocket protocol.
type MessageType string

const (
	// Client → Server
	MsgHello      MessageType = "client.hello"
	MsgTaskSubmit MessageType = "task.submit"
	MsgPong       MessageType = "client.pong"

	// Server → Client
	MsgWelcome      MessageType = "server.welcome"
	MsgTaskAccepted MessageType = "task.accepted"
	MsgTaskResult   MessageType = "task.result"
	MsgPing         MessageType = "server.ping"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level wrapper for all WebSocket communication.
// Ref carries the client's correlation token for task messages.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Message ID for correlation and deduplication.
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// --- Client → Server payloads ---

// HelloPayload is sent with MsgHello as the first message on a connection.
type HelloPayload struct {
	Identity string `json:"identity"`
}

// AttachmentPayload is a supplementary input item in a task submission.
type AttachmentPayload struct {
	Kind     string `json:"kind"` // "text", "code", "voice_transcript"
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// TaskSubmitPayload is sent with MsgTaskSubmit to request task processing.
type TaskSubmitPayload struct {
	Input       string              `json:"input"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// --- Server → Client payloads ---

// WelcomePayload is sent with MsgWelcome to confirm the hello.
type WelcomePayload struct {
	Message string `json:"message"`
}

// TaskAcceptedPayload is sent with MsgTaskAccepted when processing begins.
type TaskAcceptedPayload struct {
	TaskID string `json:"task_id,omitempty"`
}

// ExecutionPayload reports a sandboxed execution inside a task result.
type ExecutionPayload struct {
	Status     string `json:"status"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// ErrorInfoPayload is the user-facing error attached to a failed result.
type ErrorInfoPayload struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// TaskResultPayload is sent with MsgTaskResult when processing finishes.
type TaskResultPayload struct {
	TaskID    string            `json:"task_id"`
	Category  string            `json:"category"`
	Narrative string            `json:"narrative,omitempty"`
	Execution *ExecutionPayload `json:"execution,omitempty"`
	Error     *ErrorInfoPayload `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ErrorPayload is sent with MsgError for protocol-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

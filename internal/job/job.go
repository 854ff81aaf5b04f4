// Package job holds the types that travel through the pipeline: the client
// request, the queued message and the client-visible result document.
package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProcessingSentinel is the audit log output while a job is in flight.
const ProcessingSentinel = "[Processing...]"

// StatusQueued is returned to the submitter once the message is published.
const StatusQueued = "queued"

type Request struct {
	ImageURL   string `json:"image_url,omitempty"`
	TextPrompt string `json:"text_prompt,omitempty"`
}

// Normalize trims the request, rejects it when both fields are empty and
// fills in defaultPrompt when only an image was supplied.
func (r Request) Normalize(defaultPrompt string) (Request, error) {
	out := Request{
		ImageURL:   strings.TrimSpace(r.ImageURL),
		TextPrompt: strings.TrimSpace(r.TextPrompt),
	}
	if out.ImageURL == "" && out.TextPrompt == "" {
		return Request{}, fmt.Errorf("%w: provide image_url or text_prompt", ErrInvalidRequest)
	}
	if out.TextPrompt == "" {
		out.TextPrompt = defaultPrompt
	}
	return out, nil
}

// Message is the queue payload.
type Message struct {
	RecordID   int64  `json:"record_id"`
	ImageURL   string `json:"image_url,omitempty"`
	TextPrompt string `json:"text_prompt"`
}

func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("invalid job message: %w", err)
	}
	if m.RecordID <= 0 {
		return nil, fmt.Errorf("invalid job message: missing record_id")
	}
	return &m, nil
}

type Receipt struct {
	Status   string `json:"status"`
	RecordID int64  `json:"record_id"`
}

// Result is the document the processor publishes for pollers.
type Result struct {
	PostgresID  int64     `json:"postgres_id"`
	ImageURL    *string   `json:"image_url"`
	TextPrompt  string    `json:"text_prompt"`
	Description string    `json:"description"`
	ProcessedAt time.Time `json:"processed_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (r *Result) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (r *Result) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// ResultKey is the result store key for a record.
func ResultKey(recordID int64) string {
	return fmt.Sprintf("results:id_%d", recordID)
}

// InferenceErrorText is stored as the description when inference fails.
func InferenceErrorText(err error) string {
	return fmt.Sprintf("Error generating description: %v", err)
}

// FetchErrorText is stored when image fetch failures are recorded.
func FetchErrorText(err error) string {
	return fmt.Sprintf("Error fetching image: %v", err)
}

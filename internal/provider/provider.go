package provider

import (
	"context"
	"encoding/base64"
)

type Request struct {
	Model       string
	Prompt      string
	Image       *Image
	MaxTokens   int
	Temperature float64
	// Metadata for tracing
	RecordID int64
}

// Image is an inline image part sent alongside the prompt.
type Image struct {
	Data     []byte
	MIMEType string
}

func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	SupportedModels() []string
}

func supports(p Provider, model string) bool {
	for _, m := range p.SupportedModels() {
		if m == model {
			return true
		}
	}
	return false
}

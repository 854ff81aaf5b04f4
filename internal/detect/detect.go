// Package detect exposes the object-detection capability. No detection model
// ships with the service, so the only implementation is a stub that fails
// closed when its weights are absent.
package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var ErrModelUnavailable = errors.New("detection model not loaded")

type Summary struct {
	Filename  string `json:"filename"`
	SizeBytes int    `json:"size_bytes"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Format    string `json:"format,omitempty"`
	Status    string `json:"status"`
	Model     string `json:"model"`
}

type Detector interface {
	Detect(ctx context.Context, filename string, data []byte) (*Summary, error)
}

type Stub struct {
	model  string
	loaded bool
}

// NewStub reports the model as loaded only when weightsPath exists.
func NewStub(model, weightsPath string) *Stub {
	s := &Stub{model: model}
	if weightsPath != "" {
		if _, err := os.Stat(weightsPath); err == nil {
			s.loaded = true
		}
	}
	return s
}

func (s *Stub) Loaded() bool { return s.loaded }

func (s *Stub) Detect(ctx context.Context, filename string, data []byte) (*Summary, error) {
	if !s.loaded {
		return nil, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := &Summary{
		Filename:  filename,
		SizeBytes: len(data),
		Status:    "File received and model structure ready for inference.",
		Model:     s.model,
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("processing failed: %w", err)
	}
	sum.Width, sum.Height, sum.Format = cfg.Width, cfg.Height, format
	return sum, nil
}

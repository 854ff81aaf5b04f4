package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	// Registered decoders decide which formats count as a decodable image.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/provider"
)

// Some image hosts reject Go's default agent.
const userAgent = "Mozilla/5.0"

const fallbackMIME = "image/jpeg"

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*provider.Image, error)
}

type ImageFetcher struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

func NewImageFetcher(timeout time.Duration, maxBytes int64) *ImageFetcher {
	return &ImageFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBytes:  maxBytes,
	}
}

// Fetch downloads url and checks that it decodes as a raster image.
// Every failure wraps job.ErrImageFetch.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*provider.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", job.ErrImageFetch, err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", job.ErrImageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", job.ErrImageFetch, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", job.ErrImageFetch, err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", job.ErrImageFetch, f.MaxBytes)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image: %v", job.ErrImageFetch, err)
	}

	return &provider.Image{Data: data, MIMEType: mimeType(format)}, nil
}

func mimeType(format string) string {
	if format == "" {
		return fallbackMIME
	}
	return "image/" + format
}

// Package imageprobe fetches an image URL and reports its pixel dimensions.
package imageprobe

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var (
	// ErrFetch reports that the image could not be retrieved at all.
	ErrFetch = errors.New("image fetch failed")
	// ErrDecode reports a response that is not a decodable image.
	ErrDecode = errors.New("image decode failed")
)

type Service struct {
	client *http.Client
}

func New(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{client: &http.Client{Timeout: timeout}}
}

// NewWithClient is used by tests to inject a client.
func NewWithClient(client *http.Client) *Service {
	return &Service{client: client}
}

// Probe downloads just enough of the image to read its dimensions.
func (s *Service) Probe(ctx context.Context, imageURL string) (width, height int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	cfg, _, err := image.DecodeConfig(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}

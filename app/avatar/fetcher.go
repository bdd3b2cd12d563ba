package avatar

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxImageSize = 5 << 20

// Fetcher downloads one image into w
type Fetcher interface {
	Fetch(ctx context.Context, url string, w io.Writer) error
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if n > maxImageSize {
		return fmt.Errorf("image exceeds %d bytes", maxImageSize)
	}
	if n == 0 {
		return fmt.Errorf("empty image")
	}

	return nil
}

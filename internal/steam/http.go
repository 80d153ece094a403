package steam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const maxBodyBytes = 8 << 20

// HTTPDoer describes the HTTP client used by the Steam collaborators.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	Body []byte
	// FinalURL is the URL after redirects.
	FinalURL *url.URL
}

// Fetch performs a GET and classifies non-2xx statuses into the package
// sentinels.
func Fetch(ctx context.Context, client HTTPDoer, endpoint, rawURL string, header http.Header) (Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, Wrap(ErrMalformed, endpoint, "build request", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, Wrap(ErrTransient, endpoint, "request", err)
	}
	defer resp.Body.Close()

	if marker := classifyStatus(resp.StatusCode); marker != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Response{}, Wrap(marker, endpoint, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, Wrap(ErrTransient, endpoint, "read body", err)
	}
	out := Response{Body: body, FinalURL: req.URL}
	if resp.Request != nil && resp.Request.URL != nil {
		out.FinalURL = resp.Request.URL
	}
	return out, nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrTransient
	default:
		return ErrMalformed
	}
}

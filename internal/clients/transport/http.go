package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %s: %s", e.URL, e.Status, e.Body)
}

func Get[r any](h *http.Client, ctx context.Context, url string, headers map[string]string) (r, error) {
	var response r

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return response, err
	}
	return do[r](h, req, headers)
}

func Post[b, r any](h *http.Client, ctx context.Context, url string, body b, headers map[string]string) (r, error) {
	var response r

	payload, err := json.Marshal(body)
	if err != nil {
		return response, fmt.Errorf("marshal %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return response, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do[r](h, req, headers)
}

func do[r any](h *http.Client, req *http.Request, headers map[string]string) (r, error) {
	var response r
	url := req.URL.String()

	for key, val := range headers {
		req.Header.Set(key, val)
	}

	resp, err := h.Do(req)
	if err != nil {
		return response, err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return response, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, &StatusError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       snippet(responseBytes),
		}
	}

	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return response, fmt.Errorf("unmarshal %s: %w: %s", url, err, snippet(responseBytes))
	}

	return response, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 8<<10 {
		s = s[:8<<10]
	}
	return s
}

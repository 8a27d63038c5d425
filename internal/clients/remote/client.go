package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"styler/config"
	"styler/internal/clients/transport"
	"styler/internal/generation"
	"styler/internal/styles"
)

// Client talks to a self-hosted image model exposing a single JSON endpoint.
type Client struct {
	url        string
	healthUrl  string
	apiKey     string
	httpClient *http.Client
}

type transformRequest struct {
	Image          string `json:"image"`
	MimeType       string `json:"mimeType"`
	Style          string `json:"style"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	Size           int    `json:"size"`
	Seed           int64  `json:"seed"`
}

type transformResponse struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
	Seed     *int64 `json:"seed,omitempty"`
	Blocked  bool   `json:"blocked"`
	Reason   string `json:"reason,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

// ErrNotReady is returned by Health when the server answers but reports a
// status other than ok or ready.
var ErrNotReady = errors.New("remote transformer not ready")

func NewClient(cfg config.RemoteConfig) (*Client, error) {
	url := strings.TrimSpace(cfg.Url)
	if url == "" {
		return nil, errors.New("remote transformer url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		url:        url,
		healthUrl:  strings.TrimSpace(cfg.HealthUrl),
		apiKey:     cfg.ApiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return headers
}

// Health asks the server whether it can take work and returns the model it
// reports. Without a configured health url it is a no-op.
func (c *Client) Health(ctx context.Context) (string, error) {
	if c.healthUrl == "" {
		return "", nil
	}
	resp, err := transport.Get[healthResponse](c.httpClient, ctx, c.healthUrl, c.headers())
	if err != nil {
		return "", fmt.Errorf("remote health: %w", err)
	}
	switch strings.ToLower(resp.Status) {
	case "ok", "ready":
		return resp.Model, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrNotReady, resp.Status)
	}
}

func (c *Client) Transform(ctx context.Context, req generation.TransformRequest) (generation.TransformResult, error) {
	resp, err := transport.Post[transformRequest, transformResponse](c.httpClient, ctx, c.url, transformRequest{
		Image:          base64.StdEncoding.EncodeToString(req.Image),
		MimeType:       req.MimeType,
		Style:          req.Style.Key,
		Prompt:         styles.Prompt(req.Style, req.Size),
		NegativePrompt: req.Style.NegativePrompt,
		Size:           req.Size,
		Seed:           req.Seed,
	}, c.headers())
	if err != nil {
		var serr *transport.StatusError
		if errors.As(err, &serr) && serr.StatusCode == http.StatusUnavailableForLegalReasons {
			return generation.TransformResult{}, fmt.Errorf("%w: %s", generation.ErrSafetyRejection, serr.Body)
		}
		if ctx.Err() != nil {
			return generation.TransformResult{}, ctx.Err()
		}
		return generation.TransformResult{}, fmt.Errorf("%w: %w", generation.ErrTransformFailed, err)
	}

	if resp.Blocked {
		return generation.TransformResult{}, fmt.Errorf("%w: %s", generation.ErrSafetyRejection, resp.Reason)
	}
	if resp.Image == "" {
		return generation.TransformResult{}, generation.EmptyOutput()
	}

	data, err := base64.StdEncoding.DecodeString(stripDataURL(resp.Image))
	if err != nil {
		return generation.TransformResult{}, fmt.Errorf("%w: malformed image payload: %w", generation.ErrTransformFailed, err)
	}
	return generation.TransformResult{Image: data, MimeType: resp.MimeType, Seed: resp.Seed}, nil
}

// stripDataURL accepts both bare base64 and "data:<mime>;base64,<payload>".
func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

var _ generation.Transformer = (*Client)(nil)

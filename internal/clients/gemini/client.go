package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"styler/config"
	"styler/internal/generation"
	"styler/internal/styles"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models contentGenerator
	model  string
	logger *log.Logger
}

func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if strings.TrimSpace(cfg.ApiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.ApiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseUrl != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseUrl}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		models: client.Models,
		model:  cfg.Model,
		logger: log.With("component", "gemini"),
	}, nil
}

func (c *Client) Transform(ctx context.Context, req generation.TransformRequest) (generation.TransformResult, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(req.Image, req.MimeType),
		genai.NewPartFromText(styles.Prompt(req.Style, req.Size)),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		Seed:               genai.Ptr(int32(req.Seed)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return generation.TransformResult{}, ctx.Err()
		}
		return generation.TransformResult{}, fmt.Errorf("%w: %w", generation.ErrTransformFailed, err)
	}

	out, err := extractImage(resp)
	if err != nil {
		c.logger.Warn("no image in response", "style", req.Style.Key, "err", err)
		return generation.TransformResult{}, err
	}
	return out, nil
}

var blockedFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:                       true,
	genai.FinishReasonProhibitedContent:            true,
	genai.FinishReasonBlocklist:                    true,
	genai.FinishReasonSPII:                         true,
	genai.FinishReason("IMAGE_SAFETY"):             true,
	genai.FinishReason("IMAGE_PROHIBITED_CONTENT"): true,
}

// extractImage returns the first inline image part of the response.
func extractImage(resp *genai.GenerateContentResponse) (generation.TransformResult, error) {
	if resp == nil {
		return generation.TransformResult{}, generation.EmptyOutput()
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return generation.TransformResult{}, fmt.Errorf("%w: prompt blocked (%s)", generation.ErrSafetyRejection, fb.BlockReason)
	}

	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if blockedFinishReasons[cand.FinishReason] {
			return generation.TransformResult{}, fmt.Errorf("%w: finish reason %s", generation.ErrSafetyRejection, cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return generation.TransformResult{Image: part.InlineData.Data, MimeType: mime}, nil
		}
	}

	return generation.TransformResult{}, generation.EmptyOutput()
}

var _ generation.Transformer = (*Client)(nil)

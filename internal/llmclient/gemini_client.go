// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

// GeminiClient implements Provider for Google Gemini through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
	config config.LLMModelConfig
}

var _ Provider = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. A non-empty Endpoint overrides the API base URL.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

func (c *GeminiClient) Model() string                  { return c.config.Model }
func (c *GeminiClient) SupportsStructuredOutput() bool { return c.config.StructuredOutput }

// Generate sends the conversation to Gemini and returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	contents, genCfg, err := c.buildRequest(req)
	if err != nil {
		return Response{}, err
	}

	startTime := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genCfg)
	duration := time.Since(startTime)
	if err != nil {
		return Response{}, c.handleAPIError(err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Response{}, fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return Response{}, fmt.Errorf("gemini API returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Response{}, fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}

	out := Response{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	c.logger.Info("LLM generation complete (Gemini)",
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

func (c *GeminiClient) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.config.Temperature),
	}
	if c.config.TopP > 0 {
		genCfg.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Structured && req.Schema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = toGenaiSchema(req.Schema)
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case schemas.RoleSystem:
			system = append(system, m.Content)
		case schemas.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			parts := []*genai.Part{genai.NewPartFromText(m.Content)}
			if m.HasImage() {
				data, err := base64.StdEncoding.DecodeString(m.Image)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to decode screenshot: %w", err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, imageMIME(m)))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, genCfg, nil
}

func (c *GeminiClient) handleAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	c.logger.Error("Gemini API returned error status", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return taskerr.Wrap(taskerr.CodeAuthenticationError, err, "gemini rejected the API key")
	case http.StatusForbidden:
		return taskerr.Wrap(taskerr.CodeForbiddenError, err, "gemini denied access to model %s", c.config.Model)
	}
	return fmt.Errorf("gemini API error: status %d: %w", apiErr.Code, err)
}

// toGenaiSchema converts the provider-neutral schema into the Gemini representation.
func toGenaiSchema(s *llmutil.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
		out.PropertyOrdering = s.PropertyNames()
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if s.MinProperties > 0 {
		out.MinProperties = genai.Ptr(int64(s.MinProperties))
	}
	if s.MaxProperties > 0 {
		out.MaxProperties = genai.Ptr(int64(s.MaxProperties))
	}
	return out
}

func genaiType(t llmutil.Type) genai.Type {
	switch t {
	case llmutil.TypeObject:
		return genai.TypeObject
	case llmutil.TypeArray:
		return genai.TypeArray
	case llmutil.TypeString:
		return genai.TypeString
	case llmutil.TypeNumber:
		return genai.TypeNumber
	case llmutil.TypeInteger:
		return genai.TypeInteger
	case llmutil.TypeBoolean:
		return genai.TypeBoolean
	}
	return genai.TypeUnspecified
}

func imageMIME(m schemas.Message) string {
	if m.ImageMIME != "" {
		return m.ImageMIME
	}
	return "image/png"
}

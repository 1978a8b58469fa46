// internal/llmclient/openai_client.go
package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOllamaEndpoint = "http://localhost:11434/v1"
)

// OpenAIClient implements Provider for any server speaking the OpenAI chat
// completions protocol (OpenAI itself, Ollama, vLLM).
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
}

var _ Provider = (*OpenAIClient)(nil)

// -- Chat completions request/response structures (internal to this file) --

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *chatJSONSchema `json:"json_schema,omitempty"`
}

type chatJSONSchema struct {
	Name   string          `json:"name"`
	Schema *llmutil.Schema `json:"schema"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float32             `json:"temperature"`
	TopP           float32             `json:"top_p,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client. Ollama runs without an API key.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	switch cfg.Provider {
	case config.ProviderOllama:
		if endpoint == "" {
			endpoint = defaultOllamaEndpoint
		}
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API Key is required")
		}
		if endpoint == "" {
			endpoint = defaultOpenAIEndpoint
		}
	}

	return &OpenAIClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint + "/chat/completions",
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client." + string(cfg.Provider)).With(zap.String("model", cfg.Model)),
	}, nil
}

func (c *OpenAIClient) Model() string                  { return c.config.Model }
func (c *OpenAIClient) SupportsStructuredOutput() bool { return c.config.StructuredOutput }

// Generate posts one chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(c.buildRequestPayload(req))
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		return Response{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, c.handleAPIError(resp.StatusCode, respBody)
	}

	var payload chatResponse
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return Response{}, fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion returned no choices")
	}

	out := Response{
		Text: payload.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		},
	}
	c.logger.Info("LLM generation complete",
		zap.Duration("duration", duration),
		zap.String("finish_reason", payload.Choices[0].FinishReason),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

func (c *OpenAIClient) buildRequestPayload(req Request) chatRequest {
	payload := chatRequest{
		Model:       c.config.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
		MaxTokens:   c.config.MaxTokens,
	}
	if req.Structured && req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "output"
		}
		payload.ResponseFormat = &chatResponseFormat{
			Type:       "json_schema",
			JSONSchema: &chatJSONSchema{Name: name, Schema: req.Schema},
		}
	}

	for _, m := range req.Messages {
		if !m.HasImage() {
			payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		payload.Messages = append(payload.Messages, chatMessage{
			Role: string(m.Role),
			Content: []chatContentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &chatImageURL{URL: fmt.Sprintf("data:%s;base64,%s", imageMIME(m), m.Image)}},
			},
		})
	}
	return payload
}

func (c *OpenAIClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Chat completion API returned error status", zap.Int("status", statusCode), zap.String("response", llmutil.TruncateString(string(body), 500)))
	err := fmt.Errorf("chat completion API error: status %d, body: %s", statusCode, llmutil.TruncateString(string(body), 500))

	switch statusCode {
	case http.StatusUnauthorized:
		return taskerr.Wrap(taskerr.CodeAuthenticationError, err, "provider rejected the API key")
	case http.StatusForbidden:
		return taskerr.Wrap(taskerr.CodeForbiddenError, err, "provider denied access to model %s", c.config.Model)
	}
	return err
}

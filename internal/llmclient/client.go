// internal/llmclient/client.go
package llmclient

import (
	"context"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// Request is a single model call.
type Request struct {
	Messages []schemas.Message
	// Schema is sent to the provider only when Structured is set.
	Schema     *llmutil.Schema
	SchemaName string
	Structured bool
}

// Usage is the provider-reported token usage of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response carries the raw text of the model's answer.
type Response struct {
	Text  string
	Usage Usage
}

// Provider is an adapter for one provider family. Adapters are selected from
// configuration by the factory.
type Provider interface {
	// Model is the provider-side model identifier.
	Model() string
	SupportsStructuredOutput() bool
	Generate(ctx context.Context, req Request) (Response, error)
}

// Package completion provides the text-completion collaborator used to
// answer questions.
//
// Quick start:
//
//	client, _ := completion.NewClient(
//	    completion.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    completion.WithModel("gpt-3.5-turbo-instruct"),
//	)
//	resp, err := client.Complete(ctx, &completion.Request{Prompt: prompt, MaxTokens: 85})
//
// Providers can be chained so a second backend answers when the first fails:
//
//	chain, _ := completion.NewChain(client, gemini)
package completion

import "context"

// Provider generates a completion for a prompt.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Complete returns raw completion text. Callers are expected to trim it.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single completion request.
type Request struct {
	Prompt    string
	MaxTokens int    // 0 uses the provider default
	Model     string // empty uses the provider default
}

// Response is a completion result.
type Response struct {
	Text         string
	Model        string
	Provider     string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ovrishq/rove/pkg/rove/model"
)

// HTTPProvider is a generic OpenAI-compatible chat-completion Provider,
// grounded directly on the teacher's pkg/goclaw/copilot/llm.go
// LLMClient.Complete: same request/response shape, same Bearer auth,
// same single-endpoint POST. It stands in for the concrete provider
// clients (OpenAI, Anthropic, Ollama, Gemini, NVIDIA NIM) spec.md §1
// marks deliberately out of scope, since every one of them speaks this
// wire format or a close variant of it.
type HTTPProvider struct {
	name      string
	baseURL   string
	model     string
	apiKey    string
	isLocal   bool
	costPer1k float64
	client    *http.Client
}

func NewHTTPProvider(name, baseURL, model, apiKey string, isLocal bool, costPer1k float64) *HTTPProvider {
	return &HTTPProvider{
		name: name, baseURL: baseURL, model: model, apiKey: apiKey,
		isLocal: isLocal, costPer1k: costPer1k,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *HTTPProvider) Name() string             { return p.name }
func (p *HTTPProvider) IsLocal() bool            { return p.isLocal }
func (p *HTTPProvider) CostPer1k(int) float64     { return p.costPer1k }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPProvider) Generate(ctx context.Context, messages []model.Message) (*GenerateResult, error) {
	req := chatRequest{Model: p.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", p.name, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%s returned an error: %s", p.name, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}

	content := decoded.Choices[0].Message.Content
	if tc := ExtractToolCall(content); tc != nil {
		return &GenerateResult{ToolCall: tc}, nil
	}
	return &GenerateResult{FinalAnswer: &FinalAnswer{Content: content}}, nil
}

func (p *HTTPProvider) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

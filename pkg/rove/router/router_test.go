package router

import (
	"context"
	"errors"
	"testing"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	isLocal  bool
	cost     float64
	fail     bool
	response *GenerateResult
}

func (f *fakeProvider) Name() string                    { return f.name }
func (f *fakeProvider) IsLocal() bool                    { return f.isLocal }
func (f *fakeProvider) CostPer1k(tokens int) float64     { return f.cost }
func (f *fakeProvider) Health(ctx context.Context) bool { return true }
func (f *fakeProvider) Generate(ctx context.Context, messages []model.Message) (*GenerateResult, error) {
	if f.fail {
		return nil, errors.New("simulated failure")
	}
	return f.response, nil
}

func TestRouter_PrefersDefaultProvider(t *testing.T) {
	p1 := &fakeProvider{name: "ollama", isLocal: true, response: &GenerateResult{FinalAnswer: &FinalAnswer{Content: "from ollama"}}}
	p2 := &fakeProvider{name: "openai", isLocal: false, response: &GenerateResult{FinalAnswer: &FinalAnswer{Content: "from openai"}}}

	r := New(Config{DefaultProvider: "openai"}, []Provider{p1, p2}, nil)
	result, provider, err := r.Call(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hello"}})
	require.NoError(t, err)
	require.Equal(t, "openai", provider)
	require.Equal(t, "from openai", result.FinalAnswer.Content)
}

func TestRouter_FailsOverOnProviderError(t *testing.T) {
	p1 := &fakeProvider{name: "primary", fail: true}
	p2 := &fakeProvider{name: "backup", response: &GenerateResult{FinalAnswer: &FinalAnswer{Content: "backup answer"}}}

	r := New(Config{DefaultProvider: "primary"}, []Provider{p1, p2}, nil)
	result, provider, err := r.Call(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "backup", provider)
	require.Equal(t, "backup answer", result.FinalAnswer.Content)
}

func TestRouter_AllProvidersExhausted(t *testing.T) {
	p1 := &fakeProvider{name: "a", fail: true}
	p2 := &fakeProvider{name: "b", fail: true}

	r := New(Config{}, []Provider{p1, p2}, nil)
	_, _, err := r.Call(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindAllProvidersExhausted, kind)
}

func TestComputeProfile_SensitivityAndComplexity(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: "please store my password and api_key safely"},
		{Role: model.RoleAssistant, Content: "```go\nfunc main() {}\n```"},
	}
	profile := ComputeProfile(messages)
	require.InDelta(t, 0.4, profile.Sensitivity, 0.001)
	require.Greater(t, profile.Complexity, 0.0)
	require.Greater(t, profile.EstimatedTokens, 0)
}

func TestExtractToolCall_WholeMessageJSON(t *testing.T) {
	tc := ExtractToolCall(`{"function": "read_file", "arguments": {"path": "a.txt"}}`)
	require.NotNil(t, tc)
	require.Equal(t, "read_file", tc.Name)
}

func TestExtractToolCall_FencedJSONAmidProse(t *testing.T) {
	text := "Sure, here's the call:\n```json\n{\"function\": \"list_dir\", \"arguments\": {\"path\": \".\"}}\n```\nLet me know."
	tc := ExtractToolCall(text)
	require.NotNil(t, tc)
	require.Equal(t, "list_dir", tc.Name)
}

func TestExtractToolCall_XMLForm(t *testing.T) {
	tc := ExtractToolCall(`<tool_call>git_status(path="/repo")</tool_call>`)
	require.NotNil(t, tc)
	require.Equal(t, "git_status", tc.Name)
}

func TestExtractToolCall_BraceDepthFallback(t *testing.T) {
	text := `some preamble {"function": "write_file", "arguments": {"path": "a.txt", "content": "{nested}"}} trailing`
	tc := ExtractToolCall(text)
	require.NotNil(t, tc)
	require.Equal(t, "write_file", tc.Name)
}

func TestExtractToolCall_NoMatchReturnsNil(t *testing.T) {
	require.Nil(t, ExtractToolCall("just a plain final answer"))
}

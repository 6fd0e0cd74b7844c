package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Mythli/batchprompter-sub003/packet"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey  string // defaults to ANTHROPIC_API_KEY
	BaseURL string // defaults to anthropicDefaultBaseURL
}

// AnthropicProvider implements Client against Anthropic's Messages API.
// Adapted from the teacher's anthropic.Provider: same doRequest/apiRequest/
// apiResponse shape, generalised to accept multimodal ContentParts and an
// optional forced-tool-call path for structured output.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      retryConfig
}

// NewAnthropicProvider builds a provider, resolving APIKey from the
// environment when unset.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic: ANTHROPIC_API_KEY not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
		retry:      defaultRetryConfig(),
	}, nil
}

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicImgSrc `json:"source,omitempty"`
	ID     string           `json:"id,omitempty"`
	Name   string           `json:"name,omitempty"`
	Input  json.RawMessage  `json:"input,omitempty"`
}

type anthropicImgSrc struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Tools       []anthropicToolDef   `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

const structuredOutputToolName = "emit_structured_output"

// Invoke implements Client. Text requests hit the Messages API directly;
// requests carrying a StructuredSchema force a single tool call so the
// model's answer is shaped JSON rather than prose.
func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	return withRetry(ctx, p.retry, func(ctx context.Context) (*Response, error) {
		return p.invokeOnce(ctx, req)
	})
}

func (p *AnthropicProvider) invokeOnce(ctx context.Context, req Request) (*Response, error) {
	if req.Image != nil {
		return nil, fmt.Errorf("llm: anthropic: image generation not supported by this provider")
	}

	var system string
	var msgs []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = textOf(m)
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: toAnthropicBlocks(m.Parts)})
	}

	apiReq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: 4096,
		System:    system,
		Messages:  msgs,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if req.StructuredSchema != nil {
		apiReq.Tools = []anthropicToolDef{{
			Name:        structuredOutputToolName,
			Description: "Emit the final answer as structured JSON matching the required schema.",
			InputSchema: req.StructuredSchema,
		}}
		apiReq.ToolChoice = &anthropicToolChoice{Type: "tool", Name: structuredOutputToolName}
	}

	apiResp, err := p.doRequest(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	out := &Response{}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			if block.Name == structuredOutputToolName && len(block.Input) > 0 {
				var structured map[string]any
				if jerr := json.Unmarshal(block.Input, &structured); jerr == nil {
					out.Structured = structured
				}
			}
		}
	}
	return out, nil
}

func textOf(m Message) string {
	var s string
	for _, p := range m.Parts {
		if p.Type == "text" {
			s += p.Text
		}
	}
	return s
}

func toAnthropicBlocks(parts []packet.ContentPart) []anthropicContentBlock {
	blocks := make([]anthropicContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "image":
			blocks = append(blocks, anthropicContentBlock{
				Type:   "image",
				Source: &anthropicImgSrc{Type: "url", URL: p.Source},
			})
		default:
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
		}
	}
	return blocks
}

func (p *AnthropicProvider) doRequest(ctx context.Context, req anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyHTTPError(err, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: read response: %w", err)
	}
	if cerr := classifyHTTPError(nil, resp); cerr != nil {
		return nil, fmt.Errorf("llm: anthropic: %w: %s", cerr, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("llm: anthropic: parse response %q: %w", string(respBody), err)
	}
	return &apiResp, nil
}

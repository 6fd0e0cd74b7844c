package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// GenericConfig configures a GenericProvider against any OpenAI-compatible
// chat-completions endpoint (Ollama, Together, Fireworks, vLLM, ...), or an
// image-generation endpoint when ImagePath is set.
type GenericConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	Headers   map[string]string
	ImagePath string // e.g. "/images/generations"; empty disables image mode
}

// GenericProvider implements Client for any OpenAI-compatible endpoint.
// Adapted from the teacher's generic.Provider doRequest/chatRequest shape,
// generalised to accept multimodal content parts, a forced JSON response
// format for structured output, and an optional image-generation path.
type GenericProvider struct {
	name       string
	baseURL    string
	apiKey     string
	headers    map[string]string
	imagePath  string
	httpClient *http.Client
	retry      retryConfig
}

// NewGenericProvider builds a provider for a configurable endpoint.
func NewGenericProvider(cfg GenericConfig) (*GenericProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("llm: generic: provider name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: generic: base URL is required")
	}
	return &GenericProvider{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		headers:    cfg.Headers,
		imagePath:  cfg.ImagePath,
		httpClient: &http.Client{},
		retry:      defaultRetryConfig(),
	}, nil
}

type genericContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *genericImgURL `json:"image_url,omitempty"`
}

type genericImgURL struct {
	URL string `json:"url"`
}

type genericMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []genericContentPart for multimodal
}

type genericResponseFormat struct {
	Type   string         `json:"type"`
	Schema map[string]any `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []genericMessage       `json:"messages"`
	Temperature    *float64               `json:"temperature,omitempty"`
	ResponseFormat *genericResponseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// Invoke implements Client.
func (p *GenericProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	return withRetry(ctx, p.retry, func(ctx context.Context) (*Response, error) {
		if req.Image != nil {
			return p.invokeImage(ctx, req)
		}
		return p.invokeChat(ctx, req)
	})
}

func (p *GenericProvider) invokeChat(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]genericMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, genericMessage{Role: m.Role, Content: toGenericContent(m.Parts)})
	}

	chatReq := chatRequest{Model: req.Model, Messages: msgs}
	if req.Temperature > 0 {
		t := req.Temperature
		chatReq.Temperature = &t
	}
	if req.StructuredSchema != nil {
		chatReq.ResponseFormat = &genericResponseFormat{
			Type:   "json_schema",
			Schema: req.StructuredSchema,
		}
	}

	resp, err := p.doChatRequest(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: %s: no choices in response", p.name)
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	out := &Response{Text: content}
	if req.StructuredSchema != nil {
		var structured map[string]any
		if jerr := json.Unmarshal([]byte(content), &structured); jerr == nil {
			out.Structured = structured
		}
	}
	return out, nil
}

func (p *GenericProvider) invokeImage(ctx context.Context, req Request) (*Response, error) {
	if p.imagePath == "" {
		return nil, fmt.Errorf("llm: %s: image generation not configured", p.name)
	}
	prompt := ""
	for _, m := range req.Messages {
		prompt += textOf(m)
	}

	size := ""
	if req.Image.AspectRatio != "" {
		size = aspectRatioToSize(req.Image.AspectRatio)
	}

	body, err := json.Marshal(imageRequest{Model: req.Model, Prompt: prompt, Size: size})
	if err != nil {
		return nil, fmt.Errorf("llm: %s: marshal image request: %w", p.name, err)
	}

	respBody, err := p.doRaw(ctx, p.imagePath, body)
	if err != nil {
		return nil, err
	}

	var imgResp imageResponse
	if err := json.Unmarshal(respBody, &imgResp); err != nil {
		return nil, fmt.Errorf("llm: %s: parse image response: %w", p.name, err)
	}
	if len(imgResp.Data) == 0 {
		return nil, fmt.Errorf("llm: %s: no image data in response", p.name)
	}

	d := imgResp.Data[0]
	if d.B64JSON != "" {
		raw, derr := base64.StdEncoding.DecodeString(d.B64JSON)
		if derr != nil {
			return nil, fmt.Errorf("llm: %s: decode image data: %w", p.name, derr)
		}
		return &Response{Image: raw, MimeType: "image/png"}, nil
	}
	return &Response{Text: d.URL}, nil
}

func aspectRatioToSize(ratio string) string {
	switch ratio {
	case "1:1":
		return "1024x1024"
	case "16:9":
		return "1792x1024"
	case "9:16":
		return "1024x1792"
	default:
		return ""
	}
}

func toGenericContent(parts []packet.ContentPart) any {
	if len(parts) == 1 && parts[0].Type == "text" {
		return parts[0].Text
	}
	out := make([]genericContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "image":
			out = append(out, genericContentPart{Type: "image_url", ImageURL: &genericImgURL{URL: p.Source}})
		default:
			out = append(out, genericContentPart{Type: "text", Text: p.Text})
		}
	}
	return out
}

func (p *GenericProvider) doChatRequest(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: %s: marshal request: %w", p.name, err)
	}
	respBody, err := p.doRaw(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("llm: %s: parse response %q: %w", p.name, string(respBody), err)
	}
	return &chatResp, nil
}

func (p *GenericProvider) doRaw(ctx context.Context, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: %s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyHTTPError(err, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: %s: read response: %w", p.name, err)
	}
	if cerr := classifyHTTPError(nil, resp); cerr != nil {
		return nil, fmt.Errorf("llm: %s: %w: %s", p.name, cerr, string(respBody))
	}
	return respBody, nil
}

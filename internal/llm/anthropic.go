package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultModel = "claude-3-5-sonnet-20241022"
	anthropicCheckModel   = "claude-3-5-haiku-20241022"
	anthropicVersion      = "2023-06-01"
)

// ErrMissingAnthropicKey is returned when the Anthropic provider has no key
var ErrMissingAnthropicKey = errors.New("anthropic API key is required")

// AnthropicProvider talks to the Anthropic Messages API
type AnthropicProvider struct {
	endpoint   string
	header     http.Header
	httpClient *http.Client
	config     Config
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []messageInput `json:"messages"`
	Temperature float32        `json:"temperature,omitempty"`
}

type messageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// text joins the text blocks of the answer
func (r *messagesResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

func decodeAnthropicError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Type, e.Error.Message
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAnthropicKey
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	header := make(http.Header)
	header.Set("x-api-key", config.APIKey)
	header.Set("anthropic-version", anthropicVersion)

	return &AnthropicProvider{
		endpoint:   strings.TrimSuffix(baseURL, "/") + "/v1/messages",
		header:     header,
		httpClient: newHTTPClient(config, 60*time.Second),
		config:     config,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable sends a tiny message to verify the key
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	var resp messagesResponse
	err := p.send(ctx, messagesRequest{
		Model:     anthropicCheckModel,
		MaxTokens: 10,
		Messages:  []messageInput{{Role: "user", Content: "Hi"}},
	}, &resp)
	return err == nil
}

// Complete sends the prompt as a single user turn
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp messagesResponse
	err := p.send(ctx, messagesRequest{
		Model:       p.model(req.Model),
		MaxTokens:   p.config.maxTokens(req.MaxTokens),
		System:      req.System,
		Messages:    []messageInput{{Role: "user", Content: req.Prompt}},
		Temperature: p.config.Temperature,
	}, &resp)
	if err != nil {
		return nil, err
	}

	text := resp.text()
	if text == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return &CompletionResponse{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// model picks the request model, ignoring names meant for another provider
func (p *AnthropicProvider) model(override string) string {
	for _, m := range []string{override, p.config.Model} {
		if m != "" && !strings.HasPrefix(m, "gpt-") {
			return m
		}
	}
	return anthropicDefaultModel
}

func (p *AnthropicProvider) send(ctx context.Context, in messagesRequest, out *messagesResponse) error {
	return postJSON(ctx, p.httpClient, "anthropic", p.endpoint, p.header, in, out, decodeAnthropicError)
}

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	ports "github.com/ZanzyTHEbar/chatrelay/relay/generation/ports"
)

// maxErrorBody caps how much of a rejected response is kept as detail.
const maxErrorBody = 4 << 10

// ChatCompletionsProvider talks to an OpenAI-compatible
// POST {base_url}/chat/completions endpoint (DeepSeek by default).
type ChatCompletionsProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewChatCompletionsProvider creates a provider for baseURL. A nil client
// uses http.DefaultClient; deadlines come from the request context.
func NewChatCompletionsProvider(baseURL, apiKey string, client *http.Client) *ChatCompletionsProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatCompletionsProvider{
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:   apiKey,
		client:   client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt as one non-streaming request.
func (p *ChatCompletionsProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	body := chatRequest{
		Model:       opts.Model,
		Messages:    make([]chatMessage, 0, len(in.Messages)+1),
		Stream:      false,
		MaxTokens:   opts.MaxNewTokens,
		Temperature: opts.Temperature,
	}
	if in.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ports.Completion{}, &ports.RejectedError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(raw),
		}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.Completion{}, &ports.RejectedError{
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("undecodable response: %v", err),
		}
	}
	if len(decoded.Choices) == 0 {
		return ports.Completion{}, &ports.RejectedError{
			StatusCode: resp.StatusCode,
			Detail:     "response has no choices",
		}
	}

	text := decoded.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return ports.Completion{}, &ports.RejectedError{
			StatusCode: resp.StatusCode,
			Detail:     "empty completion",
		}
	}

	completion := ports.Completion{Text: text}
	if decoded.Usage != nil {
		completion.Usage = &ports.Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		}
	}
	return completion, nil
}

func errorDetail(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		return "empty response body"
	}
	return detail
}

// Ensure ChatCompletionsProvider implements the Provider interface.
var _ ports.Provider = (*ChatCompletionsProvider)(nil)

package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// maxErrorBody caps how much of an error response body is echoed into
// error messages.
const maxErrorBody = 2048

// OpenRouterClient invokes council members through the OpenRouter
// chat-completions API. The member id is used as the model name.
type OpenRouterClient struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is the bearer token for the API.
	APIKey string

	// HTTPClient is the underlying client. Defaults to a client with no
	// timeout of its own; per-call deadlines come from the context.
	HTTPClient *http.Client
}

// NewOpenRouterClient creates a client with the default base URL.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	return &OpenRouterClient{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
}

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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code,omitempty"`
	} `json:"error,omitempty"`
}

// Invoke sends one chat completion request for the given member/model.
func (c *OpenRouterClient) Invoke(ctx context.Context, member, prompt string) (string, error) {
	if strings.TrimSpace(member) == "" {
		return "", fmt.Errorf("member id is required")
	}

	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	url := strings.TrimSuffix(base, "/") + "/chat/completions"

	body, err := json.Marshal(chatRequest{
		Model:    member,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request for %s: %w", member, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", member, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", member, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read response from %s: %w", member, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", fmt.Errorf("invoke %s: status %d: %s", member, resp.StatusCode, strings.TrimSpace(snippet))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response from %s: %w", member, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("invoke %s: api error: %s", member, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("invoke %s: response has no choices", member)
	}

	answer := parsed.Choices[0].Message.Content
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("invoke %s: empty answer", member)
	}
	return answer, nil
}

// Scripted is a deterministic Invoker for tests and dry runs. Answers and
// failures are fixed per member; an optional delay simulates latency.
type Scripted struct {
	// Answers maps member id to the answer returned.
	Answers map[string]string

	// Errors maps member id to a forced failure.
	Errors map[string]error

	// Delay is applied before every answer, interruptible by ctx.
	Delay time.Duration
}

// Invoke returns the scripted answer or error for the member.
func (s *Scripted) Invoke(ctx context.Context, member, prompt string) (string, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := s.Errors[member]; ok {
		return "", err
	}
	if answer, ok := s.Answers[member]; ok {
		return answer, nil
	}
	return fmt.Sprintf("scripted answer from %s", member), nil
}

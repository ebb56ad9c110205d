package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 256
)

// Client communicates with an OpenAI-compatible completion server (vLLM).
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL (e.g.
// "http://localhost:8000/v1") and default model. apiKey may be empty;
// vLLM servers commonly run without authentication.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		// Timeouts are applied per call via context, since callers use
		// widely different budgets (60s routing vs 180s composition).
		httpClient: &http.Client{Timeout: 0},
	}
}

// Model returns the default model name completions are sent to.
func (c *Client) Model() string {
	return c.model
}

// Request describes a single completion call: exactly one system instruction
// block and one user content block, plus generation parameters.
type Request struct {
	System      string
	User        string
	MaxTokens   int           // default 256
	Temperature float64
	TopP        float64       // default 1.0
	Timeout     time.Duration // default 60s
	Model       string        // overrides the client default when set
}

// Message is a chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
}

type choice struct {
	FinishReason string        `json:"finish_reason"`
	Message      choiceMessage `json:"message"`
}

type choiceMessage struct {
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content"`
	ToolCalls        []toolCall `json:"tool_calls"`
}

type toolCall struct {
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Arguments string `json:"arguments"`
}

// Complete sends the system/user pair and returns the best-effort response
// text. Extraction priority: message content, then reasoning_content (some
// backends put the actual text there), then the first tool call's arguments,
// then "" with a warning. Network, timeout, and non-200 failures are returned
// as errors; an empty completion is not an error.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	topP := req.TopP
	if topP <= 0 {
		topP = 1.0
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        topP,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(completion.Choices) == 0 {
		slog.Warn("completion returned no choices", "model", model)
		return "", nil
	}

	return extractText(completion.Choices[0]), nil
}

// extractText applies the content / reasoning_content / tool-call fallback
// chain on a single choice.
func extractText(ch choice) string {
	if content := strings.TrimSpace(ch.Message.Content); content != "" {
		return content
	}

	if reasoning := strings.TrimSpace(ch.Message.ReasoningContent); reasoning != "" {
		slog.Warn("completion content empty, using reasoning_content", "finish_reason", ch.FinishReason)
		return reasoning
	}

	if len(ch.Message.ToolCalls) > 0 {
		if args := strings.TrimSpace(ch.Message.ToolCalls[0].Function.Arguments); args != "" {
			slog.Warn("completion content empty, using tool call arguments")
			return args
		}
	}

	slog.Warn("completion returned empty content", "finish_reason", ch.FinishReason)
	return ""
}

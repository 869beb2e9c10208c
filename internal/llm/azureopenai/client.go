// Package azureopenai implements the LLM provider interface for Azure OpenAI
// chat-completion deployments, authenticated with an API key.
package azureopenai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jkaninda/vaultchat/internal/failure"
	"github.com/jkaninda/vaultchat/internal/llm"
)

const (
	defaultAPIVersion = "2024-10-21"

	opComplete = "chat.complete"
	opStream   = "chat.stream"

	// Upper bound for a single SSE line.
	maxLineSize = 1 << 20
)

// Client implements llm.StreamingProvider against one Azure OpenAI deployment.
type Client struct {
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxTokens sets the default completion limit used when a request
// doesn't carry one. 0 leaves it to the service.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient creates a client for endpoint (e.g. https://example.openai.azure.com/)
// and deployment. No network call is made; a malformed endpoint fails on the
// first request.
func NewClient(endpoint, apiKey, deployment string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		deployment: deployment,
		apiKey:     apiKey,
		apiVersion: defaultAPIVersion,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "azureopenai" }

func (c *Client) completionsURL() string {
	return c.endpoint + "/openai/deployments/" + url.PathEscape(c.deployment) +
		"/chat/completions?api-version=" + url.QueryEscape(c.apiVersion)
}

// SendMessage sends the conversation and waits for the full completion.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpResp, err := c.post(ctx, opComplete, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, failure.ServiceError(opComplete, httpResp.StatusCode, fmt.Errorf("reading response body: %w", err))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, failure.ServiceError(opComplete, httpResp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}

	resp := toResponse(&apiResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("deployment", c.deployment),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	return resp, nil
}

// StreamMessage issues a streaming request. Chunks are read from the
// response body only as the caller pulls them.
func (c *Client) StreamMessage(ctx context.Context, req *llm.Request) (*llm.Stream, error) {
	httpResp, err := c.post(ctx, opStream, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var chunks int
	next := func() (string, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// Blank separators, comments and event: lines.
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				c.logger.DebugContext(ctx, "llm stream completed",
					slog.String("provider", c.Name()),
					slog.String("deployment", c.deployment),
					slog.Int("chunks", chunks),
				)
				return "", io.EOF
			}

			var chunk apiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", failure.ServiceError(opStream, httpResp.StatusCode, fmt.Errorf("parsing stream chunk: %w", err))
			}
			if chunk.Error != nil {
				return "", failure.ServiceError(opStream, httpResp.StatusCode, chunk.Error)
			}
			// Prompt-filter preambles carry no choices; role-only and final
			// deltas carry no content.
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			chunks++
			return chunk.Choices[0].Delta.Content, nil
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", failure.ServiceError(opStream, httpResp.StatusCode, fmt.Errorf("reading stream: %w", err))
		}
		// A body that ends without [DONE] was cut off.
		return "", failure.ServiceError(opStream, httpResp.StatusCode, errors.New("stream ended before [DONE]"))
	}

	return llm.NewStream(next, httpResp.Body), nil
}

// post sends body and returns the response when the status is 200.
// Every other outcome is returned as a classified error.
func (c *Client) post(ctx context.Context, op string, apiReq apiRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, failure.ServiceError(op, 0, fmt.Errorf("creating HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, failure.ServiceError(op, 0, fmt.Errorf("sending request: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, failure.ServiceError(op, httpResp.StatusCode, apiErrorFrom(respBody))
	}
	return httpResp, nil
}

func (c *Client) buildRequest(req *llm.Request, stream bool) apiRequest {
	var messages []apiMessage

	// System prompt becomes a system message.
	if req.SystemPrompt != "" {
		messages = append(messages, apiMessage{
			Role:    "system",
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, apiMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	return apiRequest{
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

func toResponse(apiResp *apiResponse) *llm.Response {
	resp := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if len(apiResp.Choices) == 0 {
		return resp
	}
	choice := apiResp.Choices[0]
	resp.Content = choice.Message.Content
	resp.StopReason = normalizeFinishReason(choice.FinishReason)
	return resp
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// apiErrorFrom extracts the service error message from a non-200 body.
func apiErrorFrom(body []byte) error {
	var env struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return env.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return errors.New("API error: empty response body")
	}
	return fmt.Errorf("API error: %s", msg)
}

// --- Azure OpenAI wire types (unexported) ---

type apiRequest struct {
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiStreamChunk struct {
	Choices []apiStreamChoice `json:"choices"`
	Error   *apiError         `json:"error,omitempty"`
}

type apiStreamChoice struct {
	Delta        apiMessage `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return "API error: " + e.Message
	}
	return "API error " + e.Code + ": " + e.Message
}

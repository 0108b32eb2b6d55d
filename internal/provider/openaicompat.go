package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// OpenAICompatClient streams completions from any OpenAI-compatible
// endpoint and maps rejections onto the billing error taxonomy.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures OpenAICompatClient.
type ClientOption func(*OpenAICompatClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(p *OpenAICompatClient) { p.httpClient = c }
}

// NewOpenAICompatClient constructs a client for an OpenAI-compatible API.
func NewOpenAICompatClient(baseURL, apiKey string, opts ...ClientOption) *OpenAICompatClient {
	p := &OpenAICompatClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens *int64       `json:"max_tokens,omitempty"`
	Stream    bool         `json:"stream"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiStreamChunk is a single SSE chunk.
type apiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int64 `json:"prompt_tokens"`
		CompletionTokens    int64 `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details,omitempty"`
	} `json:"usage,omitempty"`
}

// StreamCompletion dispatches a streamed completion and aggregates the
// final text and usage. Chunks are forwarded to onChunk as they arrive.
func (p *OpenAICompatClient) StreamCompletion(ctx context.Context, req Request, onChunk ChunkFunc) (Outcome, error) {
	body := apiRequest{
		Model:    req.Model,
		Messages: []apiMessage{{Role: "user", Content: req.Prompt}},
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		body.MaxTokens = &maxTokens
	}

	jsonBody, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		return Outcome{}, fmt.Errorf("provider: marshal request: %w", errMarshal)
	}

	httpReq, errNew := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if errNew != nil {
		return Outcome{}, fmt.Errorf("provider: create request: %w", errNew)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, errDo := p.httpClient.Do(httpReq)
	if errDo != nil {
		return Outcome{}, &Error{Kind: KindUnavailable, Message: errDo.Error()}
	}
	defer func() { _ = httpResp.Body.Close() }()

	if errStatus := mapHTTPError(httpResp); errStatus != nil {
		return Outcome{}, errStatus
	}

	return readStream(httpResp.Body, onChunk)
}

// readStream consumes SSE lines until [DONE], forwarding content chunks.
func readStream(body io.Reader, onChunk ChunkFunc) (Outcome, error) {
	var out Outcome
	var text strings.Builder

	reader := bufio.NewReader(body)
	for {
		line, errRead := reader.ReadString('\n')
		if errRead != nil {
			break
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if errUnmarshal := json.Unmarshal([]byte(data), &chunk); errUnmarshal != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			text.WriteString(c.Delta.Content)
			if onChunk != nil {
				if errChunk := onChunk(c.Delta.Content); errChunk != nil {
					return Outcome{}, errChunk
				}
			}
		}
		if chunk.Usage != nil {
			out.Usage.InputTokens = chunk.Usage.PromptTokens
			out.Usage.OutputTokens = chunk.Usage.CompletionTokens
			if chunk.Usage.PromptTokensDetails != nil {
				out.Usage.CachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
			}
		}
	}

	out.Text = text.String()
	return out, nil
}

// contextLengthPattern extracts the window and requested counts from
// OpenAI-style context-length error messages.
var contextLengthPattern = regexp.MustCompile(`maximum context length is (\d+) tokens.*?(\d+) in (?:the|your) messages?(?:.*?(\d+) (?:in|for) the completion)?`)

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := extractErrorMessage(body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: message}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: message}
	case http.StatusBadRequest:
		if ce := parseContextLengthError(message); ce != nil {
			return ce
		}
		return &Error{Kind: KindInvalidRequest, Message: message}
	default:
		return &Error{Kind: KindUnavailable, Message: message}
	}
}

// parseContextLengthError recognizes context-window rejections and lifts
// the provider's reported counts into a structured error.
func parseContextLengthError(message string) *Error {
	match := contextLengthPattern.FindStringSubmatch(message)
	if match == nil {
		return nil
	}
	maxContext, _ := strconv.ParseInt(match[1], 10, 64)
	inputTokens, _ := strconv.ParseInt(match[2], 10, 64)
	var outputTokens int64
	if match[3] != "" {
		outputTokens, _ = strconv.ParseInt(match[3], 10, 64)
	}
	return &Error{
		Kind:                  KindContextLength,
		Message:               message,
		MaxContextTokens:      maxContext,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: outputTokens,
	}
}

func extractErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !json.Valid(body) {
		return trimmed
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if errUnmarshal := json.Unmarshal(body, &payload); errUnmarshal != nil {
		return trimmed
	}
	if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(payload.Message); msg != "" {
		return msg
	}
	return trimmed
}

var _ Client = (*OpenAICompatClient)(nil)

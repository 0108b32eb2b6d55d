package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStreamCompletionAggregatesChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAICompatClient(server.URL, "test-key")
	var chunks []string
	outcome, errCall := client.StreamCompletion(context.Background(),
		Request{Model: "gpt-test", Prompt: "hi", MaxTokens: 100},
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		})
	if errCall != nil {
		t.Fatalf("stream: %v", errCall)
	}
	if outcome.Text != "Hello" {
		t.Fatalf("text = %q, want Hello", outcome.Text)
	}
	if outcome.Usage.InputTokens != 7 || outcome.Usage.OutputTokens != 2 {
		t.Fatalf("usage = %+v", outcome.Usage)
	}
	if strings.Join(chunks, "") != "Hello" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestStreamCompletionMapsContextLengthRejection(t *testing.T) {
	message := "This model's maximum context length is 8192 tokens. However, you requested 10000 tokens (9000 in the messages, 1000 in the completion)."
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"message":%q}}`, message)
	}))
	defer server.Close()

	client := NewOpenAICompatClient(server.URL, "test-key")
	_, errCall := client.StreamCompletion(context.Background(), Request{Model: "gpt-test", Prompt: "hi"}, nil)

	pe, ok := AsProviderError(errCall)
	if !ok {
		t.Fatalf("expected provider error, got %v", errCall)
	}
	if pe.Kind != KindContextLength {
		t.Fatalf("kind = %s, want context_length", pe.Kind)
	}
	if pe.MaxContextTokens != 8192 {
		t.Fatalf("max context = %d, want 8192", pe.MaxContextTokens)
	}
	if pe.EstimatedInputTokens != 9000 {
		t.Fatalf("input estimate = %d, want 9000", pe.EstimatedInputTokens)
	}
	if pe.EstimatedOutputTokens != 1000 {
		t.Fatalf("output estimate = %d, want 1000", pe.EstimatedOutputTokens)
	}
}

func TestStreamCompletionMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusBadRequest, KindInvalidRequest},
		{http.StatusBadGateway, KindUnavailable},
	}
	for _, c := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			fmt.Fprint(w, `{"error":{"message":"nope"}}`)
		}))

		client := NewOpenAICompatClient(server.URL, "test-key")
		_, errCall := client.StreamCompletion(context.Background(), Request{Model: "gpt-test", Prompt: "hi"}, nil)
		server.Close()

		pe, ok := AsProviderError(errCall)
		if !ok {
			t.Fatalf("status %d: expected provider error, got %v", c.status, errCall)
		}
		if pe.Kind != c.kind {
			t.Fatalf("status %d: kind = %s, want %s", c.status, pe.Kind, c.kind)
		}
		if pe.Message != "nope" {
			t.Fatalf("status %d: message = %q", c.status, pe.Message)
		}
	}
}

func TestParseContextLengthErrorIgnoresOtherMessages(t *testing.T) {
	if got := parseContextLengthError("invalid model"); got != nil {
		t.Fatalf("expected nil for unrelated message, got %+v", got)
	}
}

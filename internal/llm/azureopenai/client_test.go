package azureopenai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/vaultchat/internal/failure"
	"github.com/jkaninda/vaultchat/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-4o-mini/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-10-21" {
			t.Errorf("expected api-version 2024-10-21, got %q", got)
		}
		if r.Header.Get("api-key") != "test-key" {
			t.Errorf("expected api-key header, got %q", r.Header.Get("api-key"))
		}

		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[0].Content != "You are good at telling jokes." {
			t.Errorf("unexpected system message: %+v", req.Messages[0])
		}
		if req.Messages[1].Role != "user" {
			t.Errorf("expected user role, got %q", req.Messages[1].Role)
		}
		if req.Stream {
			t.Error("synchronous request must not set stream")
		}
		if req.MaxTokens != 128 {
			t.Errorf("expected max_tokens 128, got %d", req.MaxTokens)
		}

		resp := apiResponse{
			Choices: []apiChoice{{
				Message:      apiMessage{Role: "assistant", Content: "Arr!"},
				FinishReason: "stop",
			}},
			Usage: apiUsage{PromptTokens: 10, CompletionTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "test-key", "gpt-4o-mini", discardLogger(), WithMaxTokens(128))
	resp, err := client.SendMessage(context.Background(),
		llm.UserPrompt("You are good at telling jokes.", "Tell me a joke about a pirate.", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Arr!" {
		t.Errorf("expected content Arr!, got %q", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("expected stop reason end_turn, got %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"DeploymentNotFound","message":"The API deployment for this resource does not exist."}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "missing", discardLogger())
	_, err := client.SendMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if !errors.Is(err, failure.ErrServiceError) {
		t.Fatalf("got err=%v, want ServiceError", err)
	}
	if failure.StatusOf(err) != http.StatusNotFound {
		t.Errorf("got status=%d, want 404", failure.StatusOf(err))
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Code != "DeploymentNotFound" {
		t.Errorf("expected wrapped apiError, got %v", err)
	}
}

func TestSendMessage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(srv.URL, "k", "d", discardLogger())
	_, err := client.SendMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if !errors.Is(err, failure.ErrServiceError) {
		t.Fatalf("got err=%v, want ServiceError", err)
	}
	if failure.StatusOf(err) != 0 {
		t.Errorf("got status=%d, want 0", failure.StatusOf(err))
	}
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !req.Stream {
			t.Error("streaming request must set stream")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func delta(content string) string {
	b, _ := json.Marshal(apiStreamChunk{Choices: []apiStreamChoice{{Delta: apiMessage{Content: content}}}})
	return "data: " + string(b)
}

func TestStreamMessage_ChunksInOrder(t *testing.T) {
	srv := sseServer(t,
		`data: {"choices":[],"prompt_filter_results":[]}`,
		`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`,
		delta("A"),
		": keep-alive",
		delta("B"),
		delta("C"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		"data: [DONE]",
	)

	client := NewClient(srv.URL, "k", "d", discardLogger())
	stream, err := client.StreamMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	defer stream.Close()

	var got []string
	for stream.Next() {
		got = append(got, stream.Current())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Errorf("got %v, want [A B C]", got)
	}
}

func TestStreamMessage_EndWithoutDone(t *testing.T) {
	srv := sseServer(t, delta("A"))
	client := NewClient(srv.URL, "k", "d", discardLogger())
	stream, err := client.StreamMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	defer stream.Close()

	var got []string
	for stream.Next() {
		got = append(got, stream.Current())
	}
	if len(got) != 1 || got[0] != "A" {
		t.Errorf("got %v, want [A]", got)
	}
	err = stream.Err()
	if !errors.Is(err, failure.ErrServiceError) {
		t.Fatalf("got err=%v, want ServiceError for a truncated stream", err)
	}
	if status := failure.StatusOf(err); status != http.StatusOK {
		t.Errorf("got status=%d, want %d", status, http.StatusOK)
	}
}

func TestStreamMessage_MidStreamError(t *testing.T) {
	srv := sseServer(t,
		delta("A"),
		`data: {"error":{"code":"content_filter","message":"filtered"}}`,
		delta("never"),
	)
	client := NewClient(srv.URL, "k", "d", discardLogger())
	stream, err := client.StreamMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	var got []string
	for stream.Next() {
		got = append(got, stream.Current())
	}
	if len(got) != 1 || got[0] != "A" {
		t.Errorf("got %v, want [A]", got)
	}
	if !errors.Is(stream.Err(), failure.ErrServiceError) {
		t.Errorf("got err=%v, want ServiceError", stream.Err())
	}
}

func TestStreamMessage_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", "d", discardLogger())
	_, err := client.StreamMessage(context.Background(), llm.UserPrompt("", "hi", 0))
	if failure.StatusOf(err) != http.StatusTooManyRequests {
		t.Fatalf("got err=%v, want status 429", err)
	}
}

func TestSendMessage_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, "k", "d", discardLogger())
	_, err := client.SendMessage(ctx, llm.UserPrompt("", "hi", 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got err=%v, want context.Canceled", err)
	}
	if _, ok := failure.KindOf(err); ok {
		t.Error("cancellation should not be classified")
	}
}

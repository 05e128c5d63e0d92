package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Qwalex/ai-chat/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.Config{
		OpenRouterAPIKey:  "test-key",
		OpenRouterBaseURL: server.URL,
		StreamIdleTimeout: 5 * time.Second,
	}, server.Client())
}

func writeEvents(t *testing.T, w http.ResponseWriter, events ...string) {
	t.Helper()
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Error("response writer must support flushing")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, event := range events {
		if _, err := w.Write([]byte("data: " + event + "\n\n")); err != nil {
			t.Errorf("write event: %v", err)
			return
		}
		flusher.Flush()
	}
}

func TestStreamChatCompletionDeliversDeltasAndUsage(t *testing.T) {
	var gotBody chatAPIRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeEvents(t, w,
			`{"choices":[{"delta":{"content":"При"}}]}`,
			`{"choices":[{"delta":{"content":"вет"}}]}`,
			`{"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16,"cost":0.00042}}`,
			`[DONE]`,
		)
	})

	var started bool
	var text strings.Builder
	var usage *Usage
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "moonshotai/kimi-k2.5:nitro", Messages: []Message{{Role: "user", Content: "привет"}}},
		func() error { started = true; return nil },
		func(delta string) error { text.WriteString(delta); return nil },
		func(u Usage) error { usage = &u; return nil },
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !started {
		t.Fatal("onStart never fired")
	}
	if text.String() != "Привет" {
		t.Fatalf("unexpected text %q", text.String())
	}
	if usage == nil || usage.TotalTokens != 16 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if usage.Cost == nil || *usage.Cost != 0.00042 {
		t.Fatalf("unexpected cost %+v", usage.Cost)
	}
	if !gotBody.Stream || gotBody.Provider == nil || gotBody.Provider.Sort != "latency" {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
	if gotBody.Reasoning == nil || !gotBody.Reasoning.Enabled {
		t.Fatalf("reasoning not requested: %+v", gotBody.Reasoning)
	}
}

func TestStreamChatCompletionContinuesPastDone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(t, w,
			`{"choices":[{"delta":{"content":"ok"}}]}`,
			`[DONE]`,
			`{"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2,"cost":"0.0001"}}`,
		)
	})

	var usage *Usage
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}},
		nil,
		func(string) error { return nil },
		func(u Usage) error { usage = &u; return nil },
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if usage == nil {
		t.Fatal("usage frame after [DONE] was dropped")
	}
	if usage.Cost == nil || *usage.Cost != 0.0001 {
		t.Fatalf("string-encoded cost not parsed: %+v", usage.Cost)
	}
}

func TestStreamChatCompletionSkipsMalformedFrames(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(t, w,
			`{not json`,
			`{"choices":[{"delta":{"content":"fine"}}]}`,
			`[DONE]`,
		)
	})

	var text strings.Builder
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}},
		nil,
		func(delta string) error { text.WriteString(delta); return nil },
		nil,
	)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text.String() != "fine" {
		t.Fatalf("unexpected text %q", text.String())
	}
}

func TestStreamChatCompletionStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	})

	started := false
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}},
		func() error { started = true; return nil },
		nil, nil,
	)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.Message != "rate limit exceeded" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if started {
		t.Fatal("onStart must not fire on a non-2xx response")
	}
}

func TestStreamChatCompletionErrorFrameAfterStart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(t, w,
			`{"choices":[{"delta":{"content":"partial"}}]}`,
			`{"error":{"message":"provider unavailable"}}`,
		)
	})

	started := false
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}},
		func() error { started = true; return nil },
		func(string) error { return nil },
		nil,
	)

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if streamErr.Message != "provider unavailable" {
		t.Fatalf("unexpected message %q", streamErr.Message)
	}
	if !started {
		t.Fatal("error frame arrived after 200, onStart should have fired")
	}
}

func TestStreamChatCompletionRequiresAPIKey(t *testing.T) {
	client := NewClient(config.Config{OpenRouterBaseURL: "http://localhost"}, nil)
	err := client.StreamChatCompletion(context.Background(),
		Request{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}},
		nil, nil, nil,
	)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCompleteReturnsAnswerText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatAPIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Stream {
			t.Error("completion request must not ask for streaming")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Названия диалога"}}],"usage":{"total_tokens":9,"cost":0.002}}`))
	})

	text, usage, err := client.Complete(context.Background(), "arcee-ai/trinity-large-preview:free",
		[]Message{{Role: "user", Content: "придумай название"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "Названия диалога" {
		t.Fatalf("unexpected text %q", text)
	}
	if usage == nil || usage.TotalTokens != 9 || usage.Cost == nil || *usage.Cost != 0.002 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestParseOptionalCost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want *float64
	}{
		{`0.25`, floatPtr(0.25)},
		{`"0.25"`, floatPtr(0.25)},
		{`null`, nil},
		{``, nil},
		{`"free"`, nil},
		{`{"usd":1}`, nil},
	}
	for _, tc := range cases {
		got := parseOptionalCost(json.RawMessage(tc.raw))
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("%q: expected nil, got %v", tc.raw, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("%q: expected %v, got %v", tc.raw, *tc.want, got)
		}
	}
}

func floatPtr(v float64) *float64 { return &v }

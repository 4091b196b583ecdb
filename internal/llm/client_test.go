package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient("gpt-4o",
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresModelAndKey(t *testing.T) {
	if _, err := NewClient("", WithAPIKey("k")); !errors.Is(err, ErrModelRequired) {
		t.Errorf("error = %v, want ErrModelRequired", err)
	}

	t.Setenv("LLM_API_KEY", "")
	if _, err := NewClient("gpt-4o"); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("error = %v, want ErrAPIKeyNotSet", err)
	}
}

func TestSummarizeReturnsCompletion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"a quiet morning"}}]}`))
	})

	text, err := client.Summarize(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if text != "a quiet morning" {
		t.Errorf("text = %q", text)
	}
}

func TestSummarizeSurfacesRateLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`Rate limit reached. Please try again in 2s.`))
	})

	_, err := client.Summarize(context.Background(), "system", "user")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rle.Advised != 2*time.Second {
		t.Errorf("advised = %v, want 2s", rle.Advised)
	}
}

func TestSummarizeEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Summarize(context.Background(), "system", "user")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("error = %v, want ErrEmptyCompletion", err)
	}
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// Provider may return entries out of order; Index rules.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.2]},
			{"index":0,"embedding":[0.1]}
		]}`))
	})

	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.2 {
		t.Errorf("order not restored: %v", vectors)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}]}`))
	})

	if _, err := client.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected count-mismatch error")
	}
}

type scriptedClient struct {
	replies []error
	calls   int
}

func (s *scriptedClient) Summarize(context.Context, string, string) (string, error) {
	err := s.replies[s.calls]
	s.calls++
	if err != nil {
		return "", err
	}
	return "ok", nil
}

func TestRetryStopsOnNonRateLimitError(t *testing.T) {
	client := &scriptedClient{replies: []error{errors.New("bad request")}}

	_, err := Summarize(context.Background(), client, nil, 5, "s", "u")
	if err == nil || client.calls != 1 {
		t.Errorf("non-rate-limit error must not retry: calls=%d err=%v", client.calls, err)
	}
}

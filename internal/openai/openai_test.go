package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kanbun-tools/syosetu2ebook/internal/providers"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		var body struct {
			Model    string    `json:"model"`
			Messages []message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "prompt" {
			t.Errorf("messages = %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer srv.Close()

	o := &OpenAI{APIKey: "test-key", BaseURL: srv.URL + "/v1"}
	out, err := o.Complete(context.Background(), providers.Request{System: "sys", Prompt: "prompt"})
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if out != "done" {
		t.Errorf("Complete() = %q", out)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := &OpenAI{APIKey: "k", BaseURL: srv.URL}
	if _, err := o.Complete(context.Background(), providers.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestCompleteMissingKey(t *testing.T) {
	_, err := (&OpenAI{}).Complete(context.Background(), providers.Request{Prompt: "x"})
	if !errors.Is(err, providers.ErrMissingKey) {
		t.Fatalf("error = %v, want ErrMissingKey", err)
	}
}

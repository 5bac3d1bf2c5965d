package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "c1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func TestOpenAIParser_Parse(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"intent_type":"check_status","confidence":0.9,"entities":{"project_name":"Alpha"}}`)
	defer srv.Close()

	p := NewOpenAIParser(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	got, err := p.Parse(context.Background(), "how is Alpha doing?")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Type != TypeCheckStatus || got.Confidence != 0.9 {
		t.Errorf("got %+v", got)
	}
	if v, _ := got.Entities.First(EntityProjectName); v != "Alpha" {
		t.Errorf("project_name = %q", v)
	}
}

func TestOpenAIParser_CodeFence(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "```json\n{\"intent_type\":\"unknown\",\"confidence\":0.1}\n```")
	defer srv.Close()

	got, err := NewOpenAIParser(OpenAIConfig{BaseURL: srv.URL}).Parse(context.Background(), "?")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Type != TypeUnknown {
		t.Errorf("Type = %q", got.Type)
	}
}

func TestOpenAIParser_Malformed(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"intent":"oops"}`)
	defer srv.Close()

	_, err := NewOpenAIParser(OpenAIConfig{BaseURL: srv.URL}).Parse(context.Background(), "x")
	if !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("err = %v, want ErrMalformedIntent", err)
	}
}

func TestOpenAIParser_RateLimited(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	_, err := NewOpenAIParser(OpenAIConfig{BaseURL: srv.URL}).Parse(context.Background(), "x")
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := stripCodeFence("  {\"a\":1} "); got != `{"a":1}` {
		t.Errorf("plain = %q", got)
	}
	if got := stripCodeFence("```\n{}\n```"); got != "{}" {
		t.Errorf("fenced = %q", got)
	}
}

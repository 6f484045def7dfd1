package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/square-1111/LogoKraft/internal/domain"
)

func geminiServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GeminiGenerator) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey:     "test-key",
		Model:      "gemini-1.5-flash",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}
	return srv, gen
}

func geminiBody(text string) []byte {
	payload := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
		}},
	}
	b, _ := json.Marshal(payload)
	return b
}

func TestGeminiGeneratorParsesPromptArray(t *testing.T) {
	_, gen := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q, want test-key", got)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request not decodable: %v", err)
		}
		if req.GenerationConfig == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("missing json response mime type in request")
		}
		_, _ = w.Write(geminiBody(`["prompt one", "prompt two", "prompt three"]`))
	})

	prompts, err := gen.Generate(context.Background(), domain.Brief{CompanyName: "Acme"}, 3)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(prompts) != 3 || prompts[0] != "prompt one" {
		t.Fatalf("unexpected prompts: %v", prompts)
	}
}

func TestGeminiGeneratorToleratesCodeFences(t *testing.T) {
	_, gen := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(geminiBody("```json\n[\"a\", \"b\"]\n```"))
	})

	prompts, err := gen.Generate(context.Background(), domain.Brief{CompanyName: "Acme"}, 2)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(prompts) != 2 || prompts[1] != "b" {
		t.Fatalf("unexpected prompts: %v", prompts)
	}
}

func TestGeminiGeneratorFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Fallback:   NewStaticGenerator(),
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}

	prompts, err := gen.Generate(context.Background(), domain.Brief{CompanyName: "Acme"}, 5)
	if err != nil {
		t.Fatalf("fallback should have served the request: %v", err)
	}
	if len(prompts) != 5 {
		t.Fatalf("fallback returned %d prompts, want 5", len(prompts))
	}
}

func TestGeminiGeneratorFallsBackOnWrongCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(geminiBody(`["only one"]`))
	}))
	t.Cleanup(srv.Close)

	gen, err := NewGeminiGenerator(GeminiOptions{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Fallback:   NewStaticGenerator(),
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator failed: %v", err)
	}

	prompts, err := gen.Generate(context.Background(), domain.Brief{CompanyName: "Acme"}, 4)
	if err != nil {
		t.Fatalf("fallback should have served the request: %v", err)
	}
	if len(prompts) != 4 {
		t.Fatalf("fallback returned %d prompts, want 4", len(prompts))
	}
}

func TestGeminiGeneratorErrorsWithoutFallback(t *testing.T) {
	_, gen := geminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gen.Generate(context.Background(), domain.Brief{CompanyName: "Acme"}, 3)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
}

func TestParsePromptListRejectsGarbage(t *testing.T) {
	if _, err := parsePromptList("not json at all"); err == nil {
		t.Fatalf("garbage should not parse")
	}
	if _, err := parsePromptList(`["", "  "]`); err == nil {
		t.Fatalf("blank-only arrays should not parse")
	}
}

func TestParsePromptListExtractsEmbeddedArray(t *testing.T) {
	prompts, err := parsePromptList(`Here you go: ["x", "y"] hope that helps`)
	if err != nil {
		t.Fatalf("embedded array should parse: %v", err)
	}
	if len(prompts) != 2 || prompts[0] != "x" {
		t.Fatalf("unexpected prompts: %v", prompts)
	}
}

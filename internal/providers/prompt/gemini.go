package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// GeminiOptions configures the Gemini prompt generator.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Generator
}

// GeminiGenerator asks Gemini for a strict JSON array of prompt strings.
// Any failure, including a wrong item count, is routed to the fallback when
// one is configured.
type GeminiGenerator struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback Generator
}

const geminiDefaultTimeout = 20 * time.Second

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiGenerator validates the options and returns a generator.
func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{
		apiKey:   strings.TrimSpace(opts.APIKey),
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: opts.Fallback,
	}, nil
}

// Generate requests exactly count prompts from Gemini.
func (g *GeminiGenerator) Generate(ctx context.Context, brief domain.Brief, count int) ([]string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{{
				Text: buildPromptInstruction(brief, count),
			}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.9,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, brief, count, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(ctx, brief, count, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(ctx, brief, count, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.useFallback(ctx, brief, count, fmt.Errorf("gemini status %d", resp.StatusCode))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.useFallback(ctx, brief, count, err)
	}
	text := extractText(out)
	if text == "" {
		return g.useFallback(ctx, brief, count, errors.New("empty response"))
	}
	prompts, err := parsePromptList(text)
	if err != nil {
		return g.useFallback(ctx, brief, count, err)
	}
	if len(prompts) != count {
		return g.useFallback(ctx, brief, count, fmt.Errorf("%w: want %d, got %d", domain.ErrPromptCount, count, len(prompts)))
	}
	return prompts, nil
}

func (g *GeminiGenerator) useFallback(ctx context.Context, brief domain.Brief, count int, cause error) ([]string, error) {
	if g.fallback == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, cause)
	}
	return g.fallback.Generate(ctx, brief, count)
}

func (g *GeminiGenerator) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func buildPromptInstruction(brief domain.Brief, count int) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "You are a senior brand identity designer. Produce exactly %d distinct, production-ready text-to-image prompts for logo concepts.", count)
	sb.WriteString(" Respond strictly with a JSON array of strings, no other keys or prose.")
	sb.WriteString(" Spread the concepts across abstract marks, lettermarks, wordmarks, combination marks and pictorial marks.")
	fmt.Fprintf(sb, " Company: %q. Industry: %q.", brief.CompanyName, brief.Industry)
	if desc := strings.TrimSpace(brief.Description); desc != "" {
		fmt.Fprintf(sb, " Brand description: %q.", desc)
	}
	return sb.String()
}

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

// parsePromptList decodes a JSON array of strings, tolerating code fences
// and surrounding prose the model occasionally adds.
func parsePromptList(raw string) ([]string, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return nil, errors.New("empty payload")
	}
	var prompts []string
	if err := json.Unmarshal([]byte(cleaned), &prompts); err != nil {
		return nil, err
	}
	var out []string
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no prompts in payload")
	}
	return out, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

var _ Generator = (*GeminiGenerator)(nil)

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

const systemPrompt = `You answer questions using ONLY the provided documents.
If the documents do not contain the answer, say so. Do not invent facts.
End your reply with a final line of the form "CONFIDENCE: 0.X" estimating how
well the documents support your answer.`

// OpenAIConfig configures the chat-completion generator.
type OpenAIConfig struct {
	BaseURL         string
	APIKeyEnv       string
	Model           string
	MaxContextChars int
	Timeout         time.Duration
}

// OpenAIGenerator answers via an OpenAI-compatible chat completions endpoint.
// The model is instructed to self-report confidence on a trailing line, which
// is parsed out of the answer.
type OpenAIGenerator struct {
	baseURL         string
	apiKey          string
	model           string
	maxContextChars int
	client          *http.Client
}

// NewOpenAIGenerator creates an OpenAIGenerator. The API key is read from the
// environment variable named by cfg.APIKeyEnv.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 12000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIGenerator{
		baseURL:         cfg.BaseURL,
		apiKey:          key,
		model:           cfg.Model,
		maxContextChars: cfg.MaxContextChars,
		client:          &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate builds a grounded prompt from the documents and calls the chat
// endpoint. A trailing "CONFIDENCE: x" line is stripped from the answer and
// returned as the confidence signal; -1 when the model omitted it.
func (g *OpenAIGenerator) Generate(ctx context.Context, query string, docs []ContextDocument) (*Output, error) {
	prompt := g.buildPrompt(query, docs)

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &models.UpstreamError{Provider: "generation", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.UpstreamError{
			Provider: "generation",
			Err:      fmt.Errorf("chat endpoint returned status %d", resp.StatusCode),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &models.UpstreamError{Provider: "generation", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &models.UpstreamError{Provider: "generation", Err: fmt.Errorf("empty choices")}
	}

	answer, confidence := ParseConfidence(parsed.Choices[0].Message.Content)
	return &Output{Answer: answer, Confidence: confidence}, nil
}

// buildPrompt formats the documents and query, truncating the combined
// document text at the configured character limit.
func (g *OpenAIGenerator) buildPrompt(query string, docs []ContextDocument) string {
	var b strings.Builder
	remaining := g.maxContextChars
	for i, doc := range docs {
		if remaining <= 0 {
			break
		}
		content := doc.Content
		if len(content) > remaining {
			content = content[:remaining]
		}
		remaining -= len(content)
		fmt.Fprintf(&b, "Document %d: %s\n%s\n\n", i+1, doc.Title, content)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// ParseConfidence splits a trailing "CONFIDENCE: x" line off the answer text.
// Returns the remaining answer and the parsed value clamped to [0, 1], or -1
// when no well-formed confidence line is present.
func ParseConfidence(text string) (string, float64) {
	trimmed := strings.TrimRight(text, " \t\n")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed
	if idx >= 0 {
		last = trimmed[idx+1:]
	}

	const marker = "CONFIDENCE:"
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(last)), marker) {
		return trimmed, -1
	}
	raw := strings.TrimSpace(strings.TrimSpace(last)[len(marker):])
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return trimmed, -1
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}

	answer := trimmed
	if idx >= 0 {
		answer = strings.TrimRight(trimmed[:idx], " \t\n")
	} else {
		answer = ""
	}
	return answer, value
}

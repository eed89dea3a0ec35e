// Package report produces the personalised phase report shown after the
// quiz. Text comes from an external chat-completions service.
package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/ignite/phase-funnel/internal/pkg/httpretry"
	"github.com/ignite/phase-funnel/internal/scoring"
)

// ErrAborted marks a fetch cancelled by its caller. It is not a failure.
var ErrAborted = errors.New("report request aborted")

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Prompt is the input of one report.
type Prompt struct {
	Name    string                  `json:"name"`
	Segment scoring.Segment         `json:"segment"`
	Scores  map[scoring.Segment]int `json:"scores,omitempty"`
}

// Key identifies equivalent prompts.
func (p Prompt) Key() string {
	segs := make([]string, 0, len(p.Scores))
	for s, n := range p.Scores {
		segs = append(segs, fmt.Sprintf("%s=%d", s, n))
	}
	sort.Strings(segs)
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(p.Name)) + "|" + string(p.Segment) + "|" + strings.Join(segs, ",")))
	return hex.EncodeToString(h[:16])
}

// Generator turns a prompt into report text. Implementations return an
// error wrapping ErrAborted when ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// OpenAIGenerator calls the chat-completions endpoint.
type OpenAIGenerator struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient httpretry.HTTPDoer
}

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 700
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &OpenAIGenerator{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (g *OpenAIGenerator) SetHTTPClient(client httpretry.HTTPDoer) {
	g.httpClient = client
}

var segmentLabels = map[scoring.Segment]string{
	scoring.Devastacao:     "Devastação",
	scoring.Abstinencia:    "Abstinência",
	scoring.Interiorizacao: "Interiorização",
	scoring.Ira:            "Ira",
	scoring.Superacao:      "Superação",
}

const systemPrompt = `Você é uma especialista em recuperação emocional após o fim de relacionamentos.
Escreva em português do Brasil, com acolhimento e sem julgamentos, em até quatro parágrafos curtos.
Não faça diagnósticos clínicos e não prometa resultados.`

func userPrompt(p Prompt) string {
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "a pessoa"
	}
	fmt.Fprintf(&b, "Escreva uma prévia do relatório para %s, que está na fase %q.\n", name, segmentLabels[p.Segment])
	if len(p.Scores) > 0 {
		b.WriteString("Pontuação por fase:\n")
		for _, s := range scoring.Priority {
			fmt.Fprintf(&b, "- %s: %d\n", segmentLabels[s], p.Scores[s])
		}
	}
	b.WriteString("Explique o que caracteriza essa fase e termine convidando a ver o relatório completo.")
	return b.String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if !p.Segment.Valid() {
		return "", fmt.Errorf("unknown segment %q", p.Segment)
	}
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(p)},
		},
		Temperature: 0.7,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return "", fmt.Errorf("OpenAI request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// CachedGenerator memoises successful reports per Prompt.Key.
type CachedGenerator struct {
	next  Generator
	cache *cache.Cache
}

func NewCachedGenerator(next Generator, ttl time.Duration) *CachedGenerator {
	return &CachedGenerator{next: next, cache: cache.New(ttl, ttl*2)}
}

func (c *CachedGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	key := p.Key()
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	text, err := c.next.Generate(ctx, p)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, text)
	return text, nil
}

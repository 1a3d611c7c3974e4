package narrative

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thebtf/newsify/internal/tokens"
	"github.com/thebtf/newsify/pkg/models"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 12000
	defaultTimeout   = 60 * time.Second
)

const systemPrompt = `You write neutral news digests. You receive several articles about the same event.
Reply with a JSON object {"title": string, "body": string} in the language of the articles.
The title is a short headline. The body is one paragraph of three to five sentences that adds
information beyond the headline and does not repeat it.`

// Config configures the OpenAI-compatible chat client.
type Config struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// SummaryMinTokens is the paragraph length above which an ingested
	// document gets a generated summary. Negative disables ingestion summaries.
	SummaryMinTokens int `yaml:"summary_min_tokens"`
}

// Client summarizes documents through an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	truncator  *tokens.Truncator
	baseURL    string
	apiKey     string
	model      string
	summaryMin int
}

var _ Summarizer = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient creates a chat client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("narrative api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	truncator, err := tokens.NewTruncator(maxTokens)
	if err != nil {
		return nil, err
	}

	summaryMin := cfg.SummaryMinTokens
	if summaryMin == 0 {
		summaryMin = DefaultSummaryMinTokens
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		truncator:  truncator,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		summaryMin: summaryMin,
	}, nil
}

// Summarize asks the model for a title and body covering all docs.
func (c *Client) Summarize(ctx context.Context, docs []models.Document) (models.Narrative, error) {
	if len(docs) == 0 {
		return models.Narrative{}, ErrEmptyNarrative
	}

	prompt, cut, err := c.truncator.Truncate(buildPrompt(docs))
	if err != nil {
		return models.Narrative{}, fmt.Errorf("truncate narrative prompt: %w", err)
	}
	if cut {
		log.Debug().Int("documents", len(docs)).Msg("Narrative prompt truncated")
	}

	content, err := c.complete(ctx, systemPrompt, prompt, true)
	if err != nil {
		return models.Narrative{}, err
	}

	var raw models.Narrative
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return models.Narrative{}, fmt.Errorf("decode narrative json: %w", err)
	}
	return Normalize(raw)
}

// complete sends one chat completion, waiting for the rate limiter first.
func (c *Client) complete(ctx context.Context, system, prompt string, jsonObject bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for narrative rate limit: %w", err)
		}
	}

	chatReq := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	}
	if jsonObject {
		chatReq.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat API error (model=%s, status=%d): %s",
			c.model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices for model %s", c.model)
	}
	return chatResp.Choices[0].Message.Content, nil
}

func buildPrompt(docs []models.Document) string {
	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Article %d: %s\n", i+1, doc.Title)
		if doc.Summary != "" {
			sb.WriteString(doc.Summary)
		} else {
			sb.WriteString(doc.BodyText())
		}
	}
	return sb.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

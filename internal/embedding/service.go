package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thebtf/newsify/internal/tokens"
)

// DefaultMaxTokens bounds the text sent to the provider per request.
const DefaultMaxTokens = 8000

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("embedding: empty text")

// Config configures the embedding service.
type Config struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Service turns text into fixed-dimension vectors. It truncates input to the
// token limit, paces provider calls and rejects vectors of the wrong size.
// Safe for concurrent use.
type Service struct {
	model     Model
	truncator *tokens.Truncator
	limiter   *rate.Limiter
	timeout   time.Duration
}

// NewService creates a service for the provider named in cfg.
func NewService(cfg Config) (*Service, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = DefaultRegistry.Default()
	}

	model, err := GetModel(provider, ModelConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		ModelName:  cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", provider, err)
	}

	return NewServiceWithModel(model, cfg)
}

// NewServiceWithModel wraps an existing model. Provider settings in cfg are ignored.
func NewServiceWithModel(model Model, cfg Config) (*Service, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	truncator, err := tokens.NewTruncator(maxTokens)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Service{
		model:     model,
		truncator: truncator,
		limiter:   limiter,
		timeout:   cfg.Timeout,
	}, nil
}

// Name returns the human-readable model name.
func (s *Service) Name() string {
	return s.model.Name()
}

// Version returns the provider id.
func (s *Service) Version() string {
	return s.model.Version()
}

// Dimensions returns the embedding vector size.
func (s *Service) Dimensions() int {
	return s.model.Dimensions()
}

// Embed generates an embedding for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	input, cut, err := s.truncator.Truncate(text)
	if err != nil {
		return nil, fmt.Errorf("truncate embedding input: %w", err)
	}
	if cut {
		log.Debug().
			Str("model", s.model.Name()).
			Int("max_tokens", s.truncator.MaxTokens()).
			Msg("Embedding input truncated")
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for embedding rate limit: %w", err)
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vec, err := s.model.Embed(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(vec) != s.model.Dimensions() {
		return nil, fmt.Errorf("embedding has %d dimensions, model %s expects %d",
			len(vec), s.model.Name(), s.model.Dimensions())
	}
	return vec, nil
}

// Close releases model resources.
func (s *Service) Close() error {
	return s.model.Close()
}

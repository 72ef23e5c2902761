// Package gemini implements job.Generator on top of the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel     = "gemini-2.5-flash"
	defaultMaxTokens = 2048
	defaultRetries   = 3
	defaultBackoff   = time.Second
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// Config controls the client.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxOutputTokens int
	Temperature     float32
	Retries         int
	Backoff         time.Duration
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client sends one system + user prompt pair per call and retries transient
// provider errors.
type Client struct {
	models contentGenerator
	cfg    Config
	logger *zap.Logger
	pause  func(context.Context, time.Duration) error
}

// New creates a Client using the official SDK.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newClient(c.Models, cfg, logger), nil
}

func newClient(models contentGenerator, cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxTokens
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{models: models, cfg: cfg, logger: logger.Named("gemini"), pause: sleep}
}

// Generate implements job.Generator.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.cfg.MaxOutputTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if c.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(c.cfg.Temperature)
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: user}},
	}}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, c.cfg.Model, contents, config)
		if err == nil {
			text := responseText(resp)
			if text == "" {
				return "", ErrEmptyResponse
			}
			c.logger.Debug("generation finished",
				zap.String("model", c.cfg.Model),
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)),
				zap.Int("chars", len(text)),
			)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("gemini: %w", ctx.Err())
		}
		if !transient(err) {
			return "", fmt.Errorf("gemini: generate: %w", err)
		}
		lastErr = err
		c.logger.Warn("transient generation error",
			zap.String("model", c.cfg.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.Retries),
			zap.Error(err),
		)
		if attempt < c.cfg.Retries {
			if err := c.pause(ctx, c.cfg.Backoff*time.Duration(1<<(attempt-1))); err != nil {
				return "", fmt.Errorf("gemini: %w", err)
			}
		}
	}
	return "", fmt.Errorf("gemini: generate after %d attempts: %w", c.cfg.Retries, lastErr)
}

func transient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	// Transport failures carry no status and are worth another attempt.
	return true
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package ai generates text from a prompt using OpenAI, Google or Anthropic models.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultGoogleBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 2048
)

type Config struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	GoogleKey        string
	GoogleBaseURL    string
	AnthropicKey     string
	AnthropicBaseURL string
	DefaultModel     string
	MaxTokens        int
}

// Generator is the text-completion capability handlers depend on.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  logrus.FieldLogger
	metrics metrics.Recorder
}

func New(cfg Config, client *http.Client, logger logrus.FieldLogger, rec metrics.Recorder) *Client {
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if cfg.GoogleBaseURL == "" {
		cfg.GoogleBaseURL = DefaultGoogleBaseURL
	}
	if cfg.AnthropicBaseURL == "" {
		cfg.AnthropicBaseURL = DefaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &Client{cfg: cfg, http: client, logger: logger, metrics: rec}
}

// UnknownModelError means no provider serves the requested model name.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown ai model %q", e.Model)
}

// ProviderError is a non-2xx answer from the completion endpoint.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s completion failed (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// ProviderFor maps a model name onto its provider.
func ProviderFor(model string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "chatgpt-"):
		return ProviderOpenAI, nil
	case len(m) > 1 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9':
		return ProviderOpenAI, nil
	case strings.HasPrefix(m, "gemini-"):
		return ProviderGoogle, nil
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic, nil
	}
	return "", &UnknownModelError{Model: model}
}

// Generate returns the completion text for prompt. An empty model uses the configured default.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	if strings.TrimSpace(model) == "" {
		model = c.cfg.DefaultModel
	}
	provider, err := ProviderFor(model)
	if err != nil {
		return "", err
	}
	start := time.Now()
	var text string
	switch provider {
	case ProviderAnthropic:
		text, err = c.anthropic(ctx, model, prompt)
	case ProviderGoogle:
		text, err = c.openAICompatible(ctx, ProviderGoogle, c.cfg.GoogleBaseURL, c.cfg.GoogleKey, "GOOGLE_AI_API_KEY", model, prompt)
	default:
		text, err = c.openAICompatible(ctx, ProviderOpenAI, c.cfg.OpenAIBaseURL, c.cfg.OpenAIKey, "OPENAI_API_KEY", model, prompt)
	}
	c.metrics.RecordAIGeneration(provider, err == nil, time.Since(start))
	log := c.logger.WithFields(logrus.Fields{"provider": provider, "model": model, "duration": time.Since(start).String()})
	if err != nil {
		log.WithError(err).Warn("[AI] generation failed")
		return "", err
	}
	log.WithField("chars", len(text)).Info("[AI] generated")
	return text, nil
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

func (c *Client) openAICompatible(ctx context.Context, provider, base, key, keyName, model, prompt string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%s is not configured", keyName)
	}
	body := chatRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: prompt}}}
	raw, err := c.post(ctx, provider, strings.TrimRight(base, "/")+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + key,
	}, body)
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%s: decode completion: %w", provider, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: empty completion", provider)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) anthropic(ctx context.Context, model, prompt string) (string, error) {
	if c.cfg.AnthropicKey == "" {
		return "", fmt.Errorf("ANTHROPIC_API_KEY is not configured")
	}
	body := anthropicRequest{Model: model, MaxTokens: c.cfg.MaxTokens, Messages: []chatMessage{{Role: "user", Content: prompt}}}
	raw, err := c.post(ctx, ProviderAnthropic, strings.TrimRight(c.cfg.AnthropicBaseURL, "/")+"/v1/messages", map[string]string{
		"x-api-key":         c.cfg.AnthropicKey,
		"anthropic-version": anthropicVersion,
	}, body)
	if err != nil {
		return "", err
	}
	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("anthropic: decode completion: %w", err)
	}
	var b strings.Builder
	for _, part := range out.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("anthropic: empty completion")
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, provider, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body := string(raw)
		if len(body) > 600 {
			body = body[:600] + "..."
		}
		return nil, &ProviderError{Provider: provider, StatusCode: res.StatusCode, Body: body}
	}
	return raw, nil
}

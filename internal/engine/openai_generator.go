package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"Fabelwerk/server/internal/config"
	"Fabelwerk/server/internal/interfaces"
	"Fabelwerk/server/internal/logger"
)

const (
	defaultMaxRetries = 3
	retryDelay        = 1 * time.Second
)

// OpenAIGenerator talks to any OpenAI-compatible chat completion endpoint
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	temperature  float32
	maxTokens    int
	systemPrompt string
	maxRetries   int
	retryDelay   time.Duration
	log          *logger.Logger
}

var _ interfaces.TextGenerator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator. systemPrompt is sent ahead of every
// prompt and usually describes the expected JSON output.
func NewOpenAIGenerator(cfg config.TextModelConfig, systemPrompt string, log *logger.Logger) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		log:          logger.OrNop(log).With("component", "openai_generator", "model", cfg.Model),
	}
}

// Generate returns the completion text, retrying transient failures.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.retryDelay * time.Duration(attempt)):
			}
		}

		text, err := g.complete(ctx, prompt)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		g.log.Warn("completion failed, retrying", "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("text generation failed: %w", lastErr)
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if g.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from model")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		g.log.Warn("completion truncated by max_tokens", "max_tokens", g.maxTokens, "completion_tokens", resp.Usage.CompletionTokens)
	}
	return choice.Message.Content, nil
}

// isRetryableError reports rate limits, server errors and network timeouts.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

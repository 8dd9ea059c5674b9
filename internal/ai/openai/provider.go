// Package openai implements the ai.Provider interface using the OpenAI
// chat completion API via the sashabaranov/go-openai client. A custom base
// URL allows pointing at any OpenAI-compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/parlor-chat/parlor/internal/ai"
	"github.com/parlor-chat/parlor/internal/metrics"
)

const (
	// DefaultModel is the default model for widget conversations
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens caps the length of a single assistant reply
	DefaultMaxTokens = 1024

	// DefaultTemperature balances consistency and variety in replies
	DefaultTemperature = 0.7
)

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	BaseURL        string // Optional, for OpenAI-compatible endpoints
	Model          string
	MaxTokens      int
	Temperature    float32
	ProviderConfig ai.ProviderConfig
}

// Provider implements the ai.Provider interface using OpenAI's API
type Provider struct {
	config Config
	client *goopenai.Client
	logger *slog.Logger
}

// New creates a new OpenAI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: config.ProviderConfig.RequestTimeout,
	}

	return &Provider{
		config: config,
		client: goopenai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Complete generates the assistant's next reply for a widget conversation.
func (p *Provider) Complete(ctx context.Context, params ai.CompletionParams) (*ai.CompletionResult, error) {
	startTime := time.Now()

	model := params.Model
	if model == "" {
		model = p.config.Model
	}

	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    p.buildMessages(params),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}

	resp, err := p.executeWithRetry(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		p.logger.Error("openai completion failed",
			"model", model,
			"conversation_id", params.ConversationID,
			"duration", duration,
			"error", err,
		)
		return nil, ai.WrapError("complete", err)
	}

	if len(resp.Choices) == 0 {
		metrics.AIAPICalls.WithLabelValues("error").Inc()
		return nil, ai.WrapError("complete", ai.EAIEmptyResponse)
	}

	metrics.AIAPICalls.WithLabelValues("success").Inc()
	metrics.AITokensTotal.WithLabelValues("input").Add(float64(resp.Usage.PromptTokens))
	metrics.AITokensTotal.WithLabelValues("output").Add(float64(resp.Usage.CompletionTokens))

	p.logger.Debug("openai completion succeeded",
		"model", model,
		"conversation_id", params.ConversationID,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
		"duration", duration,
	)

	return &ai.CompletionResult{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: ai.UsageInfo{
			Model:        model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     duration,
		},
	}, nil
}

// buildMessages converts completion params into the OpenAI message format.
// The system prompt always leads, followed by history oldest first.
func (p *Provider) buildMessages(params ai.CompletionParams) []goopenai.ChatCompletionMessage {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(params.History)+1)

	if params.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: params.SystemPrompt,
		})
	}

	for _, msg := range params.History {
		role := msg.Role
		if role == ai.RoleUser {
			role = goopenai.ChatMessageRoleUser
		} else if role == ai.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	return messages
}

// executeWithRetry executes a completion request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, req goopenai.ChatCompletionRequest) (*goopenai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return &resp, nil
		}

		lastErr = p.mapAPIError(err)

		// Only retry on retryable errors
		if !ai.IsRetryable(lastErr) {
			return nil, lastErr
		}

		// Don't retry if we've exhausted attempts
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Calculate backoff delay (exponential: base * 2^(attempt-1))
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// mapAPIError maps OpenAI API errors to the package's sentinel errors
func (p *Provider) mapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.EAITimeout
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ai.EAIUnauthorized
		case http.StatusTooManyRequests:
			return ai.EAIRateLimit
		case http.StatusBadRequest:
			if apiErr.Code == "content_policy_violation" {
				return ai.EAIContentPolicy
			}
			return err
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return ai.EAIUnavailable
		}
	}

	return err
}

var _ ai.Provider = (*Provider)(nil)

package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider defines the interface for generating assistant replies in
// widget conversations.
type Provider interface {
	// Complete generates the assistant's next reply given the conversation
	// history and the widget's system prompt.
	Complete(ctx context.Context, params CompletionParams) (*CompletionResult, error)
}

// Message is a single turn in the conversation history sent to the model.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// CompletionParams contains parameters for a completion request.
type CompletionParams struct {
	SystemPrompt   string    // Widget's configured system prompt
	History        []Message // Prior visitor and assistant turns, oldest first
	Model          string    // Model override; empty uses the provider default
	ConversationID uuid.UUID // Conversation ID for tracking
	WidgetID       uuid.UUID // Widget ID for tracking
}

// CompletionResult contains the assistant's reply and usage accounting.
type CompletionResult struct {
	Content      string    // The assistant's reply text
	FinishReason string    // Why generation stopped (e.g., "stop", "length")
	Usage        UsageInfo // Token usage information
}

// UsageInfo tracks API usage for monitoring.
type UsageInfo struct {
	Model        string        // Model that produced the reply
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// Message roles accepted by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ProviderConfig contains common configuration for AI providers.
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIContentPolicy indicates the request violates content policy
	EAIContentPolicy = errors.New("request violates content policy")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the model returned no choices
	EAIEmptyResponse = errors.New("ai provider returned an empty response")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

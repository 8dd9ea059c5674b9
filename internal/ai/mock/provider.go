package mock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlor-chat/parlor/internal/ai"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	CompleteResponse *ai.CompletionResult
	CompleteError    error

	// Call tracking for testing
	CompleteCalls int
	LastParams    ai.CompletionParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Complete returns a canned assistant reply that echoes the last visitor
// message, which makes development conversations easy to follow.
func (p *Provider) Complete(ctx context.Context, params ai.CompletionParams) (*ai.CompletionResult, error) {
	p.CompleteCalls++
	p.LastParams = params

	// If a custom response or error is set, use it
	if p.CompleteError != nil {
		return nil, p.CompleteError
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}

	lastVisitor := ""
	for i := len(params.History) - 1; i >= 0; i-- {
		if params.History[i].Role == ai.RoleUser {
			lastVisitor = params.History[i].Content
			break
		}
	}

	content := "Hello! How can I help you today?"
	if lastVisitor != "" {
		content = fmt.Sprintf("Thanks for your message. You asked: %q. A member of our team will follow up shortly.", lastVisitor)
	}

	return &ai.CompletionResult{
		Content:      content,
		FinishReason: "stop",
		Usage: ai.UsageInfo{
			Model:        "mock-ai-v1",
			InputTokens:  120,
			OutputTokens: 40,
			Duration:     50 * time.Millisecond,
		},
	}, nil
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.CompleteCalls = 0
	p.CompleteResponse = nil
	p.CompleteError = nil
	p.LastParams = ai.CompletionParams{}
}

var _ ai.Provider = (*Provider)(nil)

// Package extract turns conversation history into structured task actions.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/tOgg1/bishma/internal/models"
)

// Request is everything the extractor sees for one turn.
type Request struct {
	// History is the conversation so far, ending with the latest user turn.
	History []models.Turn

	// Digest summarizes the current task state in prose.
	Digest string

	// Tasks lists every known task so the model can reference ids.
	Tasks []models.Task
}

// Rejection is a tool call that could not be turned into an Action.
type Rejection struct {
	Tool string
	Err  error
}

// Response is the extractor's answer for one turn.
type Response struct {
	// Reply is free text for the user. It may be empty.
	Reply string

	// Actions are applied in order.
	Actions []Action

	// Rejected holds tool calls with unknown names or bad arguments.
	Rejected []Rejection
}

// Extractor produces a reply and actions from a conversation.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Response, error)
}

// Checker is implemented by extractors that can test their connection.
type Checker interface {
	TestConnection(ctx context.Context) bool
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, req Request) (Response, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Unavailable fails every call. It stands in when no provider is configured.
type Unavailable struct{}

func (Unavailable) Extract(context.Context, Request) (Response, error) {
	return Response{}, fmt.Errorf("%w: no extractor configured", models.ErrCollaboratorUnavailable)
}

func (Unavailable) TestConnection(context.Context) bool { return false }

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config configures the extractor.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// RetryDelay is the first backoff after a 429 or 5xx.
	RetryDelay time.Duration
}

// New builds the extractor named by cfg.Provider.
func New(cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("extractor.api_key is required for provider %s", cfg.Provider)
		}
		return NewOpenAI(cfg), nil
	case ProviderNone, "":
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}
}

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
)

const (
	openaiBaseURL      = "https://api.openai.com/v1"
	openaiModel        = "gpt-4o"
	openaiTemperature  = 0.7
	openaiMaxTokens    = 1000
	openaiMaxRetries   = 3
	openaiInitialDelay = 1 * time.Second
)

// OpenAI extracts actions through the chat completions API with tool calls.
type OpenAI struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string    `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAI creates an OpenAI extractor. Zero fields in cfg take defaults.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = openaiModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = openaiTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = openaiMaxTokens
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = openaiInitialDelay
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.Component("extract.openai"),
	}
}

// Extract sends the system prompt and history and maps tool calls to actions.
func (c *OpenAI) Extract(ctx context.Context, req Request) (Response, error) {
	messages := make([]chatMessage, 0, len(req.History)+1)
	messages = append(messages, chatMessage{Role: "system", Content: SystemPrompt(req)})
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Tools:       Tools(),
		ToolChoice:  "auto",
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", body, &resp); err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: openai returned no choices", models.ErrCollaboratorUnavailable)
	}

	msg := resp.Choices[0].Message
	out := Response{}
	if msg.Content != nil {
		out.Reply = strings.TrimSpace(*msg.Content)
	}
	for _, call := range msg.ToolCalls {
		action, err := ParseToolCall(call.Function.Name, call.Function.Arguments)
		if err != nil {
			c.logger.Warn().Err(err).Str("tool", call.Function.Name).Msg("tool call rejected")
			out.Rejected = append(out.Rejected, Rejection{Tool: call.Function.Name, Err: err})
			continue
		}
		out.Actions = append(out.Actions, action)
	}
	c.logger.Debug().
		Int("messages", len(messages)).
		Int("actions", len(out.Actions)).
		Int("rejected", len(out.Rejected)).
		Msg("extraction complete")
	return out, nil
}

// post sends one request, retrying on 429 and 5xx with exponential backoff.
func (c *OpenAI) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	delay := c.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrCollaboratorUnavailable, ctx.Err())
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", models.ErrCollaboratorUnavailable, ctx.Err())
			}
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr openaiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, logging.Redact(apiErr.Error.Message))
			} else {
				lastErr = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, logging.Redact(string(respBody)))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("openai request will be retried")
				continue
			}
			return fmt.Errorf("%w: %v", models.ErrCollaboratorUnavailable, lastErr)
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", models.ErrCollaboratorUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: max retries (%d) exceeded: %v", models.ErrCollaboratorUnavailable, openaiMaxRetries, lastErr)
}

// TestConnection lists models to check the key and endpoint.
func (c *OpenAI) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("connection test failed")
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Package llm adapts the Anthropic messages API to the single completion
// call shape the rest of the system depends on. Classification, patent info,
// summarization, and answer generation all go through Complete with
// different prompts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Turn is one prior conversation turn passed to the model.
type Turn struct {
	Role    string
	Content string
}

// Completer is the outbound completion port.
type Completer interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

type failureClass int

const (
	failureTimeout failureClass = iota
	failureRateLimit
	failureServer
	failureClient
)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// AnthropicCompleter wraps every call with a fixed timeout and retries
// transient transport failures twice before giving up. Degrading to a safe
// default on a final error is the caller's responsibility.
type AnthropicCompleter struct {
	messages AnthropicMessager
	model    anthropic.Model
	timeout  time.Duration
}

func NewAnthropicCompleter(apiKey, model string, timeout time.Duration) (*AnthropicCompleter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicCompleter{
		messages: newAnthropicClient(apiKey),
		model:    anthropic.Model(model),
		timeout:  timeout,
	}, nil
}

func NewAnthropicCompleterFromEnv() (*AnthropicCompleter, error) {
	return NewAnthropicCompleter(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_MODEL"), 0)
}

func (a *AnthropicCompleter) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		text, err := a.completeOnce(ctx, system, turns)
		if err == nil {
			return text, nil
		}
		lastErr = err
		class := classifyTransportError(err)
		if class == failureClient || attempt == 3 {
			break
		}
		if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("completion failed: %w", lastErr)
}

func (a *AnthropicCompleter) completeOnce(ctx context.Context, system string, turns []Turn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages:  buildMessages(turns),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.messages.New(callCtx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// buildMessages maps stored roles onto the API's two-role alternation.
// Anything that is not an assistant turn is sent as user content.
func buildMessages(turns []Turn) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(block))
	}
	return msgs
}

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Completer = (*AnthropicCompleter)(nil)

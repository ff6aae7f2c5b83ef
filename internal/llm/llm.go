package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Provider defines the interface for LLM interactions.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Chat sends messages and returns a complete response.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)

	// ChatStream sends messages and returns a channel of streaming events.
	// The channel is closed when the stream completes or fails.
	ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamEvent, error)

	// Heartbeat returns nil when the provider is reachable.
	Heartbeat(ctx context.Context) error

	// ModelAvailable reports whether model can be used without pulling it.
	ModelAvailable(ctx context.Context, model string) (bool, error)
}

// Message represents a single message in a conversation.
type Message struct {
	// Role identifies the message sender: "system", "user", or "assistant"
	Role    string
	Content string
}

// ChatOptions configures chat behavior.
// All fields are optional; nil opts uses provider defaults.
type ChatOptions struct {
	Model       string
	Temperature float32
	// MaxTokens limits the response length (0 = provider default)
	MaxTokens int
}

// Response represents a complete LLM response.
type Response struct {
	Content      string
	Model        string
	TokensPrompt int
	TokensTotal  int
}

// StreamEvent represents a single event in a streaming response.
// A non-nil Error terminates the stream.
type StreamEvent struct {
	Content string
	Done    bool
	Error   error
}

// Common errors returned by LLM providers.
var (
	ErrProviderUnavailable = errors.New("llm provider is not reachable")
	ErrModelNotFound       = errors.New("requested model is not available")
	ErrContextCanceled     = errors.New("operation was canceled")
	ErrEmptyPrompt         = errors.New("prompt is empty")
)

// Messages builds the conversation sent for a single prompt. An empty
// system prompt is omitted.
func Messages(system, prompt string) []Message {
	var msgs []Message
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	return append(msgs, Message{Role: "user", Content: prompt})
}

// Forward streams prompt to p, copying the reply to w as it arrives, and
// returns the full reply. If it stops early the stream's context is
// cancelled and the remaining events are discarded so the producer exits.
func Forward(ctx context.Context, p Provider, system, prompt string, opts *ChatOptions, w io.Writer) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.ChatStream(ctx, Messages(system, prompt), opts)
	if err != nil {
		return "", err
	}
	stop := func() {
		cancel()
		go func() {
			for range stream {
			}
		}()
	}

	var reply strings.Builder
	for event := range stream {
		if event.Error != nil {
			stop()
			return reply.String(), event.Error
		}
		reply.WriteString(event.Content)
		if _, err := io.WriteString(w, event.Content); err != nil {
			stop()
			return reply.String(), fmt.Errorf("failed to write reply: %w", err)
		}
	}
	return reply.String(), nil
}

// Package ollama implements llm.Provider on top of the Ollama HTTP API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/llm"
)

// DefaultModel is used when the configuration names none.
const DefaultModel = "llama3.2"

// Provider talks to a local or remote Ollama server.
type Provider struct {
	client    *api.Client
	cfg       config.OllamaConfig
	keepAlive *api.Duration
	logger    *slog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider. An empty cfg.Host falls back to OLLAMA_HOST and
// then to http://localhost:11434.
func New(cfg config.OllamaConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var client *api.Client
	if cfg.Host != "" {
		parsedURL, err := url.Parse(cfg.Host)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return nil, fmt.Errorf("invalid ollama host %q", cfg.Host)
		}
		client = api.NewClient(parsedURL, http.DefaultClient)
		logger.Debug("created ollama client with explicit host", "host", cfg.Host)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
		}
		client = c
		logger.Debug("created ollama client from environment")
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	p := &Provider{client: client, cfg: cfg, logger: logger}
	if cfg.KeepAlive != "" {
		d, err := time.ParseDuration(cfg.KeepAlive)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama keep_alive %q: %w", cfg.KeepAlive, err)
		}
		p.keepAlive = &api.Duration{Duration: d}
	}
	return p, nil
}

// request builds a chat request from messages and opts, applying the
// configured defaults.
func (p *Provider) request(messages []llm.Message, opts *llm.ChatOptions, stream bool) *api.ChatRequest {
	model := p.cfg.Model
	options := map[string]interface{}{"temperature": float32(0)}
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		options["temperature"] = opts.Temperature
		if opts.MaxTokens > 0 {
			options["num_predict"] = opts.MaxTokens
		}
	}
	if p.cfg.NumCtx > 0 {
		options["num_ctx"] = p.cfg.NumCtx
	}
	if p.cfg.NumGPU > 0 {
		options["num_gpu"] = p.cfg.NumGPU
	}

	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	return &api.ChatRequest{
		Model:     model,
		Messages:  msgs,
		Options:   options,
		Stream:    &stream,
		KeepAlive: p.keepAlive,
	}
}

// Chat sends messages and waits for the complete reply.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	req := p.request(messages, opts, false)
	p.logger.Debug("sending chat request", "model", req.Model, "messages", len(messages))

	var response api.ChatResponse
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return nil, p.wrap(err, req.Model)
	}

	return &llm.Response{
		Content:      response.Message.Content,
		Model:        response.Model,
		TokensPrompt: response.PromptEvalCount,
		TokensTotal:  response.PromptEvalCount + response.EvalCount,
	}, nil
}

// ChatStream sends messages and streams the reply chunk by chunk.
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (<-chan llm.StreamEvent, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	req := p.request(messages, opts, true)
	p.logger.Debug("starting chat stream", "model", req.Model, "messages", len(messages))

	events := make(chan llm.StreamEvent, 10)
	send := func(ev llm.StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(events)

		err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if resp.Message.Content != "" || resp.Done {
				if !send(llm.StreamEvent{Content: resp.Message.Content, Done: resp.Done}) {
					return ctx.Err()
				}
			}
			if resp.Done {
				p.logger.Debug("chat stream completed", "model", resp.Model, "prompt_tokens", resp.PromptEvalCount, "eval_tokens", resp.EvalCount)
			}
			return nil
		})
		if err != nil {
			send(llm.StreamEvent{Error: p.wrap(err, req.Model), Done: true})
		}
	}()

	return events, nil
}

// Heartbeat checks that the server answers.
func (p *Provider) Heartbeat(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
	}
	return nil
}

// ModelAvailable reports whether model has been pulled. Both the bare name
// and the tagged name match.
func (p *Provider) ModelAvailable(ctx context.Context, model string) (bool, error) {
	listResp, err := p.client.List(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
	}
	for _, m := range listResp.Models {
		if m.Name == model || m.Model == model {
			return true, nil
		}
	}
	p.logger.Debug("model not found", "model", model, "available_count", len(listResp.Models))
	return false, nil
}

// Model returns the default model name.
func (p *Provider) Model() string {
	return p.cfg.Model
}

func (p *Provider) wrap(err error, model string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", llm.ErrContextCanceled, err)
	}
	var status api.StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", llm.ErrModelNotFound, model)
	}
	p.logger.Error("ollama request failed", "error", err, "model", model)
	return fmt.Errorf("%w: %v", llm.ErrProviderUnavailable, err)
}

package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeProvider streams a fixed list of events.
type fakeProvider struct {
	events   []StreamEvent
	err      error
	messages []Message
}

func (f *fakeProvider) Chat(context.Context, []Message, *ChatOptions) (*Response, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) ChatStream(_ context.Context, messages []Message, _ *ChatOptions) (<-chan StreamEvent, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Heartbeat(context.Context) error { return nil }

func (f *fakeProvider) ModelAvailable(context.Context, string) (bool, error) { return true, nil }

func TestMessages(t *testing.T) {
	tests := []struct {
		name      string
		system    string
		wantRoles []string
	}{
		{"with system prompt", "Answer tersely.", []string{"system", "user"}},
		{"without system prompt", "", []string{"user"}},
		{"blank system prompt", "  \n", []string{"user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := Messages(tt.system, "Write a poem")
			if len(msgs) != len(tt.wantRoles) {
				t.Fatalf("len(Messages()) = %d, want %d", len(msgs), len(tt.wantRoles))
			}
			for i, role := range tt.wantRoles {
				if msgs[i].Role != role {
					t.Errorf("msgs[%d].Role = %q, want %q", i, msgs[i].Role, role)
				}
			}
			if last := msgs[len(msgs)-1]; last.Content != "Write a poem" {
				t.Errorf("user content = %q", last.Content)
			}
		})
	}
}

func TestForward(t *testing.T) {
	p := &fakeProvider{events: []StreamEvent{{Content: "Roses "}, {Content: "are red"}, {Done: true}}}

	var out strings.Builder
	reply, err := Forward(context.Background(), p, "sys", "Write a poem", nil, &out)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if reply != "Roses are red" {
		t.Errorf("reply = %q", reply)
	}
	if out.String() != reply {
		t.Errorf("written = %q, want %q", out.String(), reply)
	}
	if len(p.messages) != 2 {
		t.Errorf("provider got %d messages, want 2", len(p.messages))
	}
}

func TestForwardStreamError(t *testing.T) {
	p := &fakeProvider{events: []StreamEvent{
		{Content: "partial"},
		{Error: ErrProviderUnavailable, Done: true},
	}}

	var out strings.Builder
	reply, err := Forward(context.Background(), p, "", "hi", nil, &out)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Forward() error = %v, want ErrProviderUnavailable", err)
	}
	if reply != "partial" {
		t.Errorf("reply = %q, want partial text", reply)
	}
}

func TestForwardRejectsEmptyPrompt(t *testing.T) {
	p := &fakeProvider{}
	if _, err := Forward(context.Background(), p, "", "   ", nil, &strings.Builder{}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("Forward() error = %v, want ErrEmptyPrompt", err)
	}
	if p.messages != nil {
		t.Error("provider should not be called for an empty prompt")
	}
}

func TestForwardStartError(t *testing.T) {
	p := &fakeProvider{err: ErrModelNotFound}
	if _, err := Forward(context.Background(), p, "", "hi", nil, &strings.Builder{}); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Forward() error = %v, want ErrModelNotFound", err)
	}
}

// endlessProvider streams on an unbuffered channel until its context is
// cancelled, then closes exited.
type endlessProvider struct {
	first  StreamEvent
	exited chan struct{}
}

func (p *endlessProvider) Chat(context.Context, []Message, *ChatOptions) (*Response, error) {
	return nil, errors.New("not implemented")
}

func (p *endlessProvider) ChatStream(ctx context.Context, _ []Message, _ *ChatOptions) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	go func() {
		defer close(p.exited)
		defer close(ch)
		ev := p.first
		for {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			ev = StreamEvent{Content: "more"}
		}
	}()
	return ch, nil
}

func (p *endlessProvider) Heartbeat(context.Context) error { return nil }

func (p *endlessProvider) ModelAvailable(context.Context, string) (bool, error) { return true, nil }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestForwardReleasesStreamOnEarlyReturn(t *testing.T) {
	tests := []struct {
		name  string
		first StreamEvent
		w     io.Writer
	}{
		{"stream error", StreamEvent{Error: ErrProviderUnavailable}, &strings.Builder{}},
		{"write error", StreamEvent{Content: "hello"}, failingWriter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &endlessProvider{first: tt.first, exited: make(chan struct{})}
			if _, err := Forward(context.Background(), p, "", "hi", nil, tt.w); err == nil {
				t.Fatal("Forward() should fail")
			}
			select {
			case <-p.exited:
			case <-time.After(2 * time.Second):
				t.Fatal("stream producer still running after Forward returned")
			}
		})
	}
}

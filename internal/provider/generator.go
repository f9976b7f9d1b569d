package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragdoc/internal/budget"
	"github.com/54b3r/ragdoc/internal/logging"
	"github.com/54b3r/ragdoc/internal/rag"
)

// Generator adapts an Eino chat model to rag.AnswerGenerator. The prompt is
// sent as a single user message and the reply content is returned verbatim.
type Generator struct {
	// chat is the backend chat model.
	chat model.BaseChatModel
	// name labels the backend in errors and trace run info.
	name string
	// timeout bounds a single Generate call.
	timeout time.Duration
}

var _ rag.AnswerGenerator = (*Generator)(nil)

// NewGenerator constructs the backend selected by cfg and wraps it.
func NewGenerator(ctx context.Context, cfg *Config) (*Generator, error) {
	chat, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := cfg.withDefaults()
	return Wrap(chat, string(c.Backend), c.Timeout), nil
}

// Wrap returns a Generator around an existing chat model. A non-positive
// timeout selects the 120s default.
func Wrap(chat model.BaseChatModel, name string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Generator{chat: chat, name: name, timeout: timeout}
}

// Generate sends prompt to the chat model and returns its reply. Backend
// failures and timeouts are reported as rag.ErrGenerationUnavailable.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Attaches the global handlers (e.g. Langfuse) to this call.
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "ragdoc-answer",
		Type:      g.name,
		Component: components.ComponentOfChatModel,
	})

	msgs := []*schema.Message{schema.UserMessage(prompt)}
	if tokens, ok := budget.Check(msgs, budget.DefaultMaxPromptTokens); !ok {
		logging.FromContext(ctx).Warn("prompt exceeds estimated context budget",
			slog.String("backend", g.name),
			slog.Int("estimated_tokens", tokens),
			slog.Int("budget_tokens", budget.DefaultMaxPromptTokens),
		)
	}

	resp, err := g.chat.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("provider: %s: %w: %w", g.name, rag.ErrGenerationUnavailable, err)
	}
	if resp == nil {
		return "", fmt.Errorf("provider: %s returned no message: %w", g.name, rag.ErrGenerationUnavailable)
	}
	return resp.Content, nil
}

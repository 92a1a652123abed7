package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/actor"
	"github.com/xela07ax/trustmesh/internal/connectors"
	"github.com/xela07ax/trustmesh/internal/domain"
)

const maxPromptLen = 4000

// Assistant отвечает на запросы через внешний генератор контента. Действия анонимные.
type Assistant struct {
	*actor.Mux
	gen    connectors.Generator
	logger *zap.Logger
}

func NewAssistant(gen connectors.Generator, logger *zap.Logger) *Assistant {
	a := &Assistant{
		Mux:    actor.NewMux(),
		gen:    gen,
		logger: logger.Named("assistant"),
	}
	a.Handle(actor.ActionSpec{
		Name:        "generate",
		Description: "Generate text for a prompt",
		Requirement: domain.Requirement{Anonymous: true},
	}, a.generate)
	return a
}

func (*Assistant) Name() string { return "Assistant" }

func (a *Assistant) generate(ctx context.Context, call actor.Call) (actor.Result, error) {
	prompt := strings.TrimSpace(actor.String(call.Params, "prompt"))
	if prompt == "" {
		return actor.Result{}, fmt.Errorf("%w: prompt is required", ErrInvalidParam)
	}
	if len(prompt) > maxPromptLen {
		return actor.Result{}, fmt.Errorf("%w: prompt longer than %d bytes", ErrInvalidParam, maxPromptLen)
	}

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("generation failed", zap.String("trace_id", call.TraceID), zap.Error(err))
		return actor.Result{}, fmt.Errorf("assistant: generate: %w", err)
	}
	return actor.Result{Data: map[string]any{"text": text}}, nil
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"linechat/internal/domain"
)

// OrchestratorConfig configures the model orchestrator.
type OrchestratorConfig struct {
	Chat   domain.ChatModel
	Images domain.ImageModel
	// DefaultImagePrompt replaces an empty image prompt when set.
	DefaultImagePrompt string
	Logger             *slog.Logger
}

// Orchestrator builds model context and calls the generative backends.
type Orchestrator struct {
	chat               domain.ChatModel
	images             domain.ImageModel
	defaultImagePrompt string
	logger             *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		chat:               cfg.Chat,
		images:             cfg.Images,
		defaultImagePrompt: cfg.DefaultImagePrompt,
		logger:             cfg.Logger,
	}
}

// BuildContext returns the persona as a single system turn, followed by
// history in chronological order and the new user message.
func BuildContext(persona string, history []domain.Turn, userMessage string) []domain.Turn {
	msgs := make([]domain.Turn, 0, len(history)+2)
	msgs = append(msgs, domain.Turn{Role: domain.RoleSystem, Content: persona})
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.Turn{Role: domain.RoleUser, Content: userMessage})
	return msgs
}

// Converse runs one chat completion. ok is false when the backend answered
// without usable content.
func (o *Orchestrator) Converse(ctx context.Context, persona string, history []domain.Turn, userMessage string) (string, bool, error) {
	start := time.Now()
	answer, err := o.chat.Complete(ctx, BuildContext(persona, history, userMessage))
	if err != nil {
		return "", false, fmt.Errorf("chat completion: %w", err)
	}

	o.logger.Debug("chat completed",
		"history_turns", len(history),
		"answer_len", len(answer),
		"duration", time.Since(start),
	)
	if strings.TrimSpace(answer) == "" {
		return "", false, nil
	}
	return answer, true, nil
}

// Synthesize generates one image for prompt and returns its URL.
func (o *Orchestrator) Synthesize(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" && o.defaultImagePrompt != "" {
		prompt = o.defaultImagePrompt
	}
	start := time.Now()
	url, err := o.images.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if url == "" {
		return "", domain.ErrNoImage
	}

	o.logger.Debug("image generated", "prompt_len", len(prompt), "duration", time.Since(start))
	return url, nil
}

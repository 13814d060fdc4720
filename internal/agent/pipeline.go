// Package agent runs LINE webhook events through intent routing, the
// generative backends, history persistence and the reply.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"linechat/internal/domain"
	"linechat/internal/metrics"
)

// IntentClassifier routes a text message.
type IntentClassifier interface {
	Classify(text string) domain.Intent
}

// Assistant answers chat messages and generates images.
type Assistant interface {
	Converse(ctx context.Context, persona string, history []domain.Turn, userMessage string) (string, bool, error)
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// PipelineConfig holds every collaborator of the pipeline.
type PipelineConfig struct {
	Classifier IntentClassifier
	Assistant  Assistant
	OCR        domain.TextExtractor
	History    domain.HistoryStore
	Messenger  domain.Messenger

	Persona      string
	FallbackText string
	WorkingText  string // pushed before image generation; empty skips
	DoneText     string // pushed after image generation; empty skips

	// SerializePerSender allows at most one in-flight event per user.
	SerializePerSender bool
	Logger             *slog.Logger
}

// Pipeline processes webhook batches. It is safe for concurrent use.
type Pipeline struct {
	classifier IntentClassifier
	assistant  Assistant
	ocr        domain.TextExtractor
	history    domain.HistoryStore
	messenger  domain.Messenger

	persona      string
	fallbackText string
	workingText  string
	doneText     string

	senders *KeyedLock // nil when events are not serialized
	logger  *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		classifier:   cfg.Classifier,
		assistant:    cfg.Assistant,
		ocr:          cfg.OCR,
		history:      cfg.History,
		messenger:    cfg.Messenger,
		persona:      cfg.Persona,
		fallbackText: cfg.FallbackText,
		workingText:  cfg.WorkingText,
		doneText:     cfg.DoneText,
		logger:       cfg.Logger,
	}
	if cfg.SerializePerSender {
		p.senders = NewKeyedLock()
	}
	return p
}

// HandleBatch runs every event concurrently and waits for all of them.
// One event's failure never affects its siblings. With per-sender
// serialization, a sender's events run one at a time in batch order.
func (p *Pipeline) HandleBatch(ctx context.Context, events []domain.InboundEvent) domain.Summary {
	outcomes := make([]domain.Outcome, len(events))
	var g errgroup.Group

	if p.senders == nil {
		for i, ev := range events {
			g.Go(func() error {
				outcomes[i] = p.runEvent(ctx, i, ev)
				return nil
			})
		}
	} else {
		for _, idxs := range groupBySender(events) {
			g.Go(func() error {
				for _, i := range idxs {
					outcomes[i] = p.runSerialized(ctx, i, events[i])
				}
				return nil
			})
		}
	}

	g.Wait()
	return domain.Summary{Outcomes: outcomes}
}

// groupBySender returns event indexes per user, each group in batch order.
// Events without a user form their own groups.
func groupBySender(events []domain.InboundEvent) [][]int {
	var groups [][]int
	byUser := make(map[string]int)
	for i, ev := range events {
		if ev.UserID == "" {
			groups = append(groups, []int{i})
			continue
		}
		gi, ok := byUser[ev.UserID]
		if !ok {
			gi = len(groups)
			byUser[ev.UserID] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], i)
	}
	return groups
}

func (p *Pipeline) runSerialized(ctx context.Context, i int, ev domain.InboundEvent) domain.Outcome {
	if ev.UserID == "" {
		return p.runEvent(ctx, i, ev)
	}
	unlock, err := p.senders.Lock(ctx, ev.UserID)
	if err != nil {
		return p.record(ev, domain.Outcome{Index: i, UserID: ev.UserID, Status: domain.StatusFailed,
			Err: fmt.Errorf("wait for sender: %w", err)})
	}
	defer unlock()
	return p.runEvent(ctx, i, ev)
}

func (p *Pipeline) runEvent(ctx context.Context, i int, ev domain.InboundEvent) domain.Outcome {
	metrics.InFlightEvents.Inc()
	defer metrics.InFlightEvents.Dec()

	start := time.Now()
	status, err := p.process(ctx, ev)
	out := domain.Outcome{Index: i, UserID: ev.UserID, Status: status, Err: err}

	p.logger.Info("event processed",
		"index", i,
		"kind", ev.Kind,
		"user", ev.UserID,
		"status", status,
		"duration", time.Since(start),
	)
	return p.record(ev, out)
}

func (p *Pipeline) record(ev domain.InboundEvent, out domain.Outcome) domain.Outcome {
	metrics.EventsTotal(string(out.Status)).Inc()
	if out.Status == domain.StatusFailed {
		p.logger.Error("event failed", "index", out.Index, "kind", ev.Kind, "user", ev.UserID, "err", out.Err)
	}
	return out
}

// process is the per-event state machine: classify, gather context,
// invoke the backend, persist, reply.
func (p *Pipeline) process(ctx context.Context, ev domain.InboundEvent) (domain.Status, error) {
	switch ev.Kind {
	case domain.EventText:
		intent := p.classifier.Classify(ev.Text)
		p.logger.Debug("intent classified", "user", ev.UserID, "intent", intent.Kind)
		if intent.Kind == domain.IntentImageGeneration {
			return p.generateImage(ctx, ev, intent.Text)
		}
		return p.chat(ctx, ev, intent.Text)

	case domain.EventImage:
		data, err := p.messenger.Content(ctx, ev.MessageID)
		if err != nil {
			return p.fail(ctx, ev, fmt.Errorf("download content: %w", err))
		}
		text, ok, err := p.ocr.ExtractText(ctx, data)
		if err != nil {
			return p.fail(ctx, ev, fmt.Errorf("extract text: %w", err))
		}
		if !ok {
			p.logger.Info("no text in image", "user", ev.UserID, "message_id", ev.MessageID)
			return p.replyFallback(ctx, ev)
		}
		return p.chat(ctx, ev, text)

	default:
		return domain.StatusSkipped, nil
	}
}

// chat answers message with the sender's recent history. A sender without a
// user ID has no conversation owner, so history is neither read nor written.
func (p *Pipeline) chat(ctx context.Context, ev domain.InboundEvent, message string) (domain.Status, error) {
	owned := ev.UserID != ""

	var history []domain.Turn
	if owned {
		var err error
		history, err = p.history.FetchRecent(ctx, ev.UserID)
		if err != nil {
			p.logger.Warn("history unavailable, continuing without it", "user", ev.UserID, "err", err)
			history = nil
		}
	}

	answer, ok, err := p.assistant.Converse(ctx, p.persona, history, message)
	if err != nil {
		return p.fail(ctx, ev, err)
	}
	if !ok {
		return p.replyFallback(ctx, ev)
	}

	if !owned {
		p.logger.Debug("no user id, history skipped", "message_id", ev.MessageID)
		if err := p.messenger.ReplyText(ctx, ev.ReplyToken, answer); err != nil {
			return domain.StatusFailed, fmt.Errorf("reply text: %w", err)
		}
		return domain.StatusReplied, nil
	}

	persistErr := p.history.AppendTurns(ctx, ev.UserID, []domain.Turn{
		{Role: domain.RoleUser, Content: message},
		{Role: domain.RoleAssistant, Content: answer},
	})
	if persistErr != nil {
		p.logger.Error("persist turns failed", "user", ev.UserID, "err", persistErr)
	}

	if err := p.messenger.ReplyText(ctx, ev.ReplyToken, answer); err != nil {
		return domain.StatusFailed, fmt.Errorf("reply text: %w", err)
	}
	if persistErr != nil {
		return domain.StatusPersistFailed, fmt.Errorf("persist turns: %w", persistErr)
	}
	return domain.StatusPersisted, nil
}

func (p *Pipeline) generateImage(ctx context.Context, ev domain.InboundEvent, prompt string) (domain.Status, error) {
	p.push(ctx, ev, p.workingText)
	url, err := p.assistant.Synthesize(ctx, prompt)
	if err != nil {
		return p.fail(ctx, ev, err)
	}
	p.push(ctx, ev, p.doneText)

	if err := p.messenger.ReplyImage(ctx, ev.ReplyToken, url); err != nil {
		return domain.StatusFailed, fmt.Errorf("reply image: %w", err)
	}
	return domain.StatusReplied, nil
}

// push sends an interim notification. Failures are logged only.
func (p *Pipeline) push(ctx context.Context, ev domain.InboundEvent, text string) {
	if text == "" || ev.UserID == "" {
		return
	}
	if err := p.messenger.PushText(ctx, ev.UserID, text); err != nil {
		p.logger.Warn("push notification failed", "user", ev.UserID, "err", err)
	}
}

func (p *Pipeline) replyFallback(ctx context.Context, ev domain.InboundEvent) (domain.Status, error) {
	if err := p.messenger.ReplyText(ctx, ev.ReplyToken, p.fallbackText); err != nil {
		return domain.StatusFailed, fmt.Errorf("reply fallback: %w", err)
	}
	return domain.StatusFallback, nil
}

// fail marks the event failed after a backend error and still spends the
// reply token on the fallback text.
func (p *Pipeline) fail(ctx context.Context, ev domain.InboundEvent, cause error) (domain.Status, error) {
	if err := p.messenger.ReplyText(ctx, ev.ReplyToken, p.fallbackText); err != nil {
		p.logger.Warn("fallback reply failed", "user", ev.UserID, "err", err)
	}
	return domain.StatusFailed, cause
}

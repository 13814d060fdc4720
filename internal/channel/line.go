package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"linechat/internal/domain"
)

// maxContentBytes bounds downloaded message content (LINE images are at most 10MB).
const maxContentBytes = 10 << 20

// LINEConfig configures the LINE Messaging API client.
type LINEConfig struct {
	ChannelSecret      string
	ChannelAccessToken string
	APIBase            string // overrides both the API and the content endpoints; used by tests
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// LINE implements domain.Messenger on top of the LINE Messaging API.
type LINE struct {
	bot    *linebot.Client
	logger *slog.Logger
}

func NewLINE(cfg LINEConfig) (*LINE, error) {
	var opts []linebot.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, linebot.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.APIBase != "" {
		opts = append(opts, linebot.WithEndpointBase(cfg.APIBase), linebot.WithEndpointBaseData(cfg.APIBase))
	}
	bot, err := linebot.New(cfg.ChannelSecret, cfg.ChannelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("line client: %w", err)
	}
	return &LINE{bot: bot, logger: cfg.Logger}, nil
}

func (l *LINE) Name() string { return "line" }

func (l *LINE) ReplyText(ctx context.Context, replyToken, text string) error {
	if _, err := l.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}

// ReplyImage replies with an image message using url as both original and preview.
func (l *LINE) ReplyImage(ctx context.Context, replyToken, url string) error {
	if _, err := l.bot.ReplyMessage(replyToken, linebot.NewImageMessage(url, url)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("line reply image: %w", err)
	}
	return nil
}

func (l *LINE) PushText(ctx context.Context, userID, text string) error {
	if _, err := l.bot.PushMessage(userID, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	return nil
}

func (l *LINE) Content(ctx context.Context, messageID string) ([]byte, error) {
	res, err := l.bot.GetMessageContent(messageID).WithContext(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("line content %s: %w", messageID, err)
	}
	defer res.Content.Close()

	data, err := io.ReadAll(io.LimitReader(res.Content, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", messageID, err)
	}
	return data, nil
}

// --- Webhook payload decoding ---

type webhookPayload struct {
	Destination string           `json:"destination"`
	Events      []*linebot.Event `json:"events"`
}

// ParseEvents decodes a webhook body into pipeline events, preserving order.
func ParseEvents(body []byte) ([]domain.InboundEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	events := make([]domain.InboundEvent, 0, len(payload.Events))
	for _, e := range payload.Events {
		if e == nil {
			continue
		}
		events = append(events, toInboundEvent(e))
	}
	return events, nil
}

func toInboundEvent(e *linebot.Event) domain.InboundEvent {
	ev := domain.InboundEvent{
		Kind:       domain.EventOther,
		ReplyToken: e.ReplyToken,
		Timestamp:  e.Timestamp,
	}
	if e.Source != nil {
		ev.UserID = e.Source.UserID
	}
	if e.Type != linebot.EventTypeMessage {
		return ev
	}

	switch m := e.Message.(type) {
	case *linebot.TextMessage:
		ev.Kind = domain.EventText
		ev.MessageID = m.ID
		ev.Text = m.Text
	case *linebot.ImageMessage:
		ev.Kind = domain.EventImage
		ev.MessageID = m.ID
	}
	return ev
}

package domain

import (
	"context"
	"errors"
)

// ChatModel produces a single chat completion.
// An empty content string with a nil error means the backend answered without usable content.
type ChatModel interface {
	Complete(ctx context.Context, messages []Turn) (string, error)
}

// ImageModel generates one image and returns its URL.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// TextExtractor runs optical text extraction on raw image bytes.
// ok is false when the image has no text annotations.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (text string, ok bool, err error)
}

// HistoryStore is the per-user turn store.
type HistoryStore interface {
	// FetchRecent returns the most recent turns for ownerID, oldest first.
	FetchRecent(ctx context.Context, ownerID string) ([]Turn, error)
	// AppendTurns stores each turn as an independent record.
	AppendTurns(ctx context.Context, ownerID string, turns []Turn) error
}

// Messenger delivers replies and pushes on the chat platform.
type Messenger interface {
	ReplyText(ctx context.Context, replyToken, text string) error
	ReplyImage(ctx context.Context, replyToken, imageURL string) error
	PushText(ctx context.Context, userID, text string) error
	// Content downloads the binary payload of a received message.
	Content(ctx context.Context, messageID string) ([]byte, error)
}

// ErrNoImage is returned when image generation succeeds without producing an image.
var ErrNoImage = errors.New("image backend returned no image")

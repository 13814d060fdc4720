package domain

import "time"

// EventKind tags the payload carried by an InboundEvent.
type EventKind string

const (
	EventText  EventKind = "text"
	EventImage EventKind = "image"
	EventOther EventKind = "other"
)

// InboundEvent is one event of a webhook delivery, already decoded by the channel.
type InboundEvent struct {
	Kind       EventKind
	UserID     string // conversation owner
	ReplyToken string // single use
	MessageID  string // content handle for image messages
	Text       string
	Timestamp  time.Time
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is the role/content projection of a stored conversation turn.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is one persisted turn. Turns are append-only.
type ConversationTurn struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AnswerKind classifies a ModelAnswer.
type AnswerKind string

const (
	AnswerText  AnswerKind = "text"
	AnswerImage AnswerKind = "image"
)

type ModelAnswer struct {
	Kind     AnswerKind
	Text     string
	ImageURL string
}

// IntentKind is the routing decision for a text message.
type IntentKind int

const (
	IntentPlainChat IntentKind = iota
	IntentImageGeneration
)

func (k IntentKind) String() string {
	if k == IntentImageGeneration {
		return "image_generation"
	}
	return "plain_chat"
}

// Intent carries the message text for chat, or the image prompt for generation.
type Intent struct {
	Kind IntentKind
	Text string
}

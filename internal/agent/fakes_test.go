package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"

	"linechat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errBackend = errors.New("backend unavailable")

type sentReply struct {
	Token string
	Kind  domain.AnswerKind
	Body  string // text or image URL
}

type fakeMessenger struct {
	mu       sync.Mutex
	replies  []sentReply
	pushes   []string
	content  map[string][]byte
	replyErr error
	pushErr  error
}

func (m *fakeMessenger) ReplyText(_ context.Context, token, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, sentReply{Token: token, Kind: domain.AnswerText, Body: text})
	return nil
}

func (m *fakeMessenger) ReplyImage(_ context.Context, token, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, sentReply{Token: token, Kind: domain.AnswerImage, Body: url})
	return nil
}

func (m *fakeMessenger) PushText(_ context.Context, userID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, userID+":"+text)
	return m.pushErr
}

func (m *fakeMessenger) Content(_ context.Context, messageID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.content[messageID]
	if !ok {
		return nil, errBackend
	}
	return data, nil
}

func (m *fakeMessenger) replyFor(token string) (sentReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.replies {
		if r.Token == token {
			return r, true
		}
	}
	return sentReply{}, false
}

// fakeHistory keeps turns in memory, oldest first.
type fakeHistory struct {
	mu        sync.Mutex
	turns     map[string][]domain.Turn
	fetchErr  error
	appendErr error
	fetches   int
	appends   int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{turns: make(map[string][]domain.Turn)}
}

func (h *fakeHistory) FetchRecent(_ context.Context, ownerID string) ([]domain.Turn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	all := h.turns[ownerID]
	if len(all) > 10 {
		all = all[len(all)-10:]
	}
	return slices.Clone(all), nil
}

func (h *fakeHistory) AppendTurns(_ context.Context, ownerID string, turns []domain.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appends++
	if h.appendErr != nil {
		return h.appendErr
	}
	h.turns[ownerID] = append(h.turns[ownerID], turns...)
	return nil
}

func (h *fakeHistory) stored(ownerID string) []domain.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.turns[ownerID])
}

// fakeChat answers through respond and records every request.
type fakeChat struct {
	mu       sync.Mutex
	requests [][]domain.Turn
	respond  func(msgs []domain.Turn) (string, error)
}

func (c *fakeChat) Complete(_ context.Context, msgs []domain.Turn) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, slices.Clone(msgs))
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return "了解です", nil
	}
	return respond(msgs)
}

func (c *fakeChat) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeImages struct {
	mu      sync.Mutex
	prompts []string
	url     string
	err     error
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.url, f.err
}

type fakeOCR struct {
	mu    sync.Mutex
	text  string
	ok    bool
	err   error
	calls int
}

func (f *fakeOCR) ExtractText(context.Context, []byte) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.ok, f.err
}

package channel

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/internal/domain"
)

func TestParseEvents_MapsKinds(t *testing.T) {
	body := `{"destination":"Ubot","events":[
		{"type":"message","replyToken":"r1","timestamp":1700000000000,"source":{"type":"user","userId":"U1"},
		 "message":{"id":"m1","type":"text","text":"猫の写真撮って"}},
		{"type":"message","replyToken":"r2","timestamp":1700000000000,"source":{"type":"user","userId":"U2"},
		 "message":{"id":"m2","type":"image","contentProvider":{"type":"line"}}},
		{"type":"message","replyToken":"r3","timestamp":1700000000000,"source":{"type":"user","userId":"U3"},
		 "message":{"id":"m3","type":"sticker","packageId":"1","stickerId":"1"}},
		{"type":"follow","replyToken":"r4","timestamp":1700000000000,"source":{"type":"user","userId":"U4"}}
	]}`

	events, err := ParseEvents([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, domain.InboundEvent{
		Kind:       domain.EventText,
		UserID:     "U1",
		ReplyToken: "r1",
		MessageID:  "m1",
		Text:       "猫の写真撮って",
		Timestamp:  time.UnixMilli(1700000000000),
	}, normalizeTime(events[0]))

	assert.Equal(t, domain.EventImage, events[1].Kind)
	assert.Equal(t, "m2", events[1].MessageID)
	assert.Equal(t, "U2", events[1].UserID)

	assert.Equal(t, domain.EventOther, events[2].Kind, "sticker is not handled")
	assert.Equal(t, domain.EventOther, events[3].Kind, "follow is not a message")
	assert.Equal(t, "U4", events[3].UserID)
}

// normalizeTime normalizes the timestamp location for comparison.
func normalizeTime(ev domain.InboundEvent) domain.InboundEvent {
	ev.Timestamp = time.UnixMilli(ev.Timestamp.UnixMilli())
	return ev
}

func TestParseEvents_InvalidJSON(t *testing.T) {
	_, err := ParseEvents([]byte(`{"events":`))
	require.Error(t, err)
}

type lineRequest struct {
	ReplyToken string `json:"replyToken"`
	To         string `json:"to"`
	Messages   []struct {
		Type               string `json:"type"`
		Text               string `json:"text"`
		OriginalContentURL string `json:"originalContentUrl"`
		PreviewImageURL    string `json:"previewImageUrl"`
	} `json:"messages"`
}

func newTestLINE(t *testing.T, handler http.HandlerFunc) *LINE {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	l, err := NewLINE(LINEConfig{
		ChannelSecret:      testSecret,
		ChannelAccessToken: "access-token",
		APIBase:            srv.URL,
		HTTPClient:         srv.Client(),
		Logger:             testWebhookLogger(),
	})
	require.NoError(t, err)
	return l
}

func decodeLineRequest(t *testing.T, r *http.Request) lineRequest {
	t.Helper()
	var req lineRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestLINE_ReplyText(t *testing.T) {
	var got lineRequest
	l := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/reply", r.URL.Path)
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		got = decodeLineRequest(t, r)
		io.WriteString(w, `{}`)
	})

	require.NoError(t, l.ReplyText(t.Context(), "r1", "こんにちは！"))
	assert.Equal(t, "r1", got.ReplyToken)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "text", got.Messages[0].Type)
	assert.Equal(t, "こんにちは！", got.Messages[0].Text)
}

func TestLINE_ReplyImageUsesURLForBothSizes(t *testing.T) {
	var got lineRequest
	l := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeLineRequest(t, r)
		io.WriteString(w, `{}`)
	})

	require.NoError(t, l.ReplyImage(t.Context(), "r1", "https://img.example/cat.png"))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "image", got.Messages[0].Type)
	assert.Equal(t, "https://img.example/cat.png", got.Messages[0].OriginalContentURL)
	assert.Equal(t, "https://img.example/cat.png", got.Messages[0].PreviewImageURL)
}

func TestLINE_PushText(t *testing.T) {
	var got lineRequest
	l := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/push", r.URL.Path)
		got = decodeLineRequest(t, r)
		io.WriteString(w, `{}`)
	})

	require.NoError(t, l.PushText(t.Context(), "U1", "撮影中…"))
	assert.Equal(t, "U1", got.To)
	assert.Equal(t, "撮影中…", got.Messages[0].Text)
}

func TestLINE_Content(t *testing.T) {
	l := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/bot/message/m1/content", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	})

	data, err := l.Content(t.Context(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
}

func TestLINE_ReplyErrorPropagates(t *testing.T) {
	l := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"Invalid reply token"}`)
	})

	err := l.ReplyText(t.Context(), "used-token", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid reply token")
}

func TestNewLINE_RequiresCredentials(t *testing.T) {
	_, err := NewLINE(LINEConfig{ChannelSecret: "", ChannelAccessToken: "x"})
	assert.Error(t, err)
}

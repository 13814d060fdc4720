package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/internal/domain"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), StoreConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "nested", "history.db"),
		Table:  "conversation_turns",
		Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), StoreConfig{Driver: "dynamodb", DSN: "x", Table: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported history driver")
}

func TestFetchRecent_Empty(t *testing.T) {
	s := testStore(t)

	turns, err := s.FetchRecent(t.Context(), "U-nobody")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAppendTurns_KeepsPairOrder(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{
		{Role: domain.RoleUser, Content: "こんにちは"},
		{Role: domain.RoleAssistant, Content: "こんにちは！"},
	}))

	turns, err := s.FetchRecent(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "こんにちは"},
		{Role: domain.RoleAssistant, Content: "こんにちは！"},
	}, turns)
}

func TestFetchRecent_WindowIsMostRecentChronological(t *testing.T) {
	s := testStore(t)
	s.now = stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := t.Context()

	for i := range 12 {
		require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{
			{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
			{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		}))
	}

	turns, err := s.FetchRecent(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, turns, HistoryWindow)
	assert.Equal(t, "q7", turns[0].Content)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "a11", turns[len(turns)-1].Content)
	assert.Equal(t, domain.RoleAssistant, turns[len(turns)-1].Role)
}

func TestFetchRecent_IsolatesOwners(t *testing.T) {
	s := testStore(t)
	ctx := t.Context()

	require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{{Role: domain.RoleUser, Content: "mine"}}))
	require.NoError(t, s.AppendTurns(ctx, "U2", []domain.Turn{{Role: domain.RoleUser, Content: "theirs"}}))

	turns, err := s.FetchRecent(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "mine", turns[0].Content)
}

func TestAppendTurns_AttemptsEveryTurn(t *testing.T) {
	s := testStore(t)
	ids := []string{"dup", "dup", "fresh"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	ctx := t.Context()

	err := s.AppendTurns(ctx, "U1", []domain.Turn{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assistant")

	turns, err := s.ListTurns(ctx, "U1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, "three", turns[1].Content)
}

func TestListTurns(t *testing.T) {
	s := testStore(t)
	s.now = stepClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	ctx := t.Context()

	for i := range 3 {
		require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{
			{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", i)},
		}))
	}

	all, err := s.ListTurns(ctx, "U1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "U1", all[0].OwnerID)
	assert.NotEmpty(t, all[0].ID)
	assert.True(t, all[0].CreatedAt.Before(all[2].CreatedAt))

	last, err := s.ListTurns(ctx, "U1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "q1", last[0].Content)
	assert.Equal(t, "q2", last[1].Content)
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := t.Context()

	s.now = func() time.Time { return base }
	require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{{Role: domain.RoleUser, Content: "old"}}))
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, s.AppendTurns(ctx, "U1", []domain.Turn{{Role: domain.RoleUser, Content: "new"}}))

	removed, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	turns, err := s.FetchRecent(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "new", turns[0].Content)
}

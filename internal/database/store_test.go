package database_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/liveinbox/internal/database"
	apperrors "github.com/edgard/liveinbox/internal/errors"
)

func newTestStore(t *testing.T, opts ...database.StoreOption) (database.Store, *sqlx.DB) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "store_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil, opts...), db
}

// stepClock returns a clock that advances one second on every call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestSaveMessageUpdatesExistingConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	saved, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-10", Channel: "whatsapp", Sender: "usuario", Text: "Hola"})
	require.NoError(t, err)
	require.True(t, saved)

	saved, err = store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-10", Channel: "instagram", Sender: "agente", Text: "Respuesta"})
	require.NoError(t, err)
	require.True(t, saved)

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "conv-10", conversations[0].ID)
	assert.Equal(t, "instagram", conversations[0].Channel)
	assert.False(t, conversations[0].UpdatedAt.IsZero())
}

func TestSaveMessagePreservesContactName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-20", Channel: "web", Text: "Hola", ContactName: "Ana"})
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-20", Channel: "web", Text: "Sigo aqui"})
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-20", Channel: "web", Text: "Otra vez", ContactName: "   "})
	require.NoError(t, err)

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	require.NotNil(t, conversations[0].ContactName)
	assert.Equal(t, "Ana", *conversations[0].ContactName)

	_, err = store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-20", Channel: "web", Text: "Cambio", ContactName: "Ana Maria"})
	require.NoError(t, err)

	conversations, err = store.ListConversations(ctx)
	require.NoError(t, err)
	require.NotNil(t, conversations[0].ContactName)
	assert.Equal(t, "Ana Maria", *conversations[0].ContactName)
}

func TestListMessagesReturnsMessagesInInsertOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-11", Channel: "web", Sender: "usuario", Text: "Primero"})
	require.NoError(t, err)
	_, err = store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-11", Channel: "web", Sender: "agente", Text: "Segundo"})
	require.NoError(t, err)

	messages, err := store.ListMessages(ctx, "conv-11")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Primero", messages[0].Text)
	assert.Equal(t, "Segundo", messages[1].Text)
	assert.Equal(t, "usuario", messages[0].Sender)
	assert.Equal(t, "agente", messages[1].Sender)
	assert.Less(t, messages[0].ID, messages[1].ID)
}

func TestListMessagesTieBreaksOnInsertionSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t, database.WithClock(func() time.Time { return fixed }))

	for _, text := range []string{"uno", "dos", "tres"} {
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-tie", Text: text})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "conv-tie")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"uno", "dos", "tres"}, []string{messages[0].Text, messages[1].Text, messages[2].Text})
	assert.True(t, messages[0].CreatedAt.Equal(fixed))
}

func TestListConversationsOrdersByMostRecentActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, database.WithClock(stepClock()))

	for _, id := range []string{"conv-a", "conv-b", "conv-c", "conv-a"} {
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: id, Text: "ping " + id})
		require.NoError(t, err)
	}

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 3)
	assert.Equal(t, "conv-a", conversations[0].ID)
	assert.Equal(t, "conv-c", conversations[1].ID)
	assert.Equal(t, "conv-b", conversations[2].ID)
	assert.Equal(t, "unknown", conversations[0].Channel)
}

func TestSaveMessageTakesTimestampInsideTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	clock := func() time.Time {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(entered)
			<-release
		}
		return base.Add(time.Duration(n) * time.Millisecond)
	}
	store, _ := newTestStore(t, database.WithClock(clock))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-race", Channel: "old", Text: "first"})
		assert.NoError(t, err)
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-race", Channel: "new", Text: "second"})
		assert.NoError(t, err)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	messages, err := store.ListMessages(ctx, "conv-race")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
	assert.Less(t, messages[0].ID, messages[1].ID)
	assert.True(t, messages[0].CreatedAt.Before(messages[1].CreatedAt))

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "new", conversations[0].Channel)
	assert.True(t, conversations[0].UpdatedAt.Equal(messages[1].CreatedAt))
}

func TestSaveMessageNeverMovesActivityBackwards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	later := time.Date(2026, 5, 1, 12, 0, 5, 0, time.UTC)
	earlier := later.Add(-3 * time.Second)
	times := []time.Time{later, earlier}
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		next := times[0]
		times = times[1:]
		return next
	}
	store, _ := newTestStore(t, database.WithClock(clock))

	for _, text := range []string{"uno", "dos"} {
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-skew", Text: text})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "conv-skew")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "uno", messages[0].Text)
	assert.Equal(t, "dos", messages[1].Text)
	assert.True(t, messages[1].CreatedAt.Equal(later))

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.True(t, conversations[0].UpdatedAt.Equal(later))
}

func TestSaveMessageConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)

	const writers = 8
	const perWriter = 10
	conversationIDs := []string{"conv-shared", "conv-x", "conv-y"}

	stop := make(chan struct{})
	orphans := make(chan int, 1)
	go func() {
		worst := 0
		for {
			select {
			case <-stop:
				orphans <- worst
				return
			default:
			}
			var n int
			err := db.GetContext(ctx, &n, `
                SELECT COUNT(*) FROM messages m
                LEFT JOIN conversations c ON c.id = m.conversation_id
                WHERE c.id IS NULL`)
			if err == nil && n > worst {
				worst = n
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := conversationIDs[(w+i)%len(conversationIDs)]
				saved, err := store.SaveMessage(ctx, database.NewMessage{
					ConversationID: id,
					Channel:        "web",
					Text:           fmt.Sprintf("w%d-%d", w, i),
				})
				assert.NoError(t, err)
				assert.True(t, saved)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	assert.Zero(t, <-orphans)

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, len(conversationIDs))

	total := 0
	for _, conv := range conversations {
		messages, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.NotEmpty(t, messages)
		total += len(messages)

		for i := 1; i < len(messages); i++ {
			assert.Less(t, messages[i-1].ID, messages[i].ID, "conversation %s out of insertion order", conv.ID)
			assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
		}
		newest := messages[len(messages)-1]
		assert.True(t, conv.UpdatedAt.Equal(newest.CreatedAt), "conversation %s updated_at lags its newest message", conv.ID)
	}
	assert.Equal(t, writers*perWriter, total)

	var rows int
	require.NoError(t, db.GetContext(ctx, &rows, `SELECT COUNT(*) FROM messages`))
	assert.Equal(t, writers*perWriter, rows)
}

func TestSaveMessageRejectsBlankConversationID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	saved, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "   ", Text: "Hola"})
	require.Error(t, err)
	assert.False(t, saved)
	assert.Equal(t, apperrors.CodeMissingConversationID, apperrors.Code(err))

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestSaveMessageWithoutTextOrFileWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	saved, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-empty", Channel: "web", Text: "  \n\t "})
	require.NoError(t, err)
	assert.False(t, saved)

	conversations, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, conversations, "no partial conversation row may be written")
}

func TestSaveMessageFileFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      database.NewMessage
		wantText string
		wantType string
	}{
		{
			name:     "file name placeholder",
			msg:      database.NewMessage{FileURL: "https://cdn.example.com/a.pdf", FileName: "a.pdf", FileExt: "pdf"},
			wantText: "[File] a.pdf",
			wantType: "file",
		},
		{
			name:     "file url placeholder",
			msg:      database.NewMessage{FileURL: " https://cdn.example.com/b.png "},
			wantText: "https://cdn.example.com/b.png",
			wantType: "file",
		},
		{
			name:     "file url beats explicit type",
			msg:      database.NewMessage{Text: "mira", FileURL: "https://cdn.example.com/c.png", MessageType: database.MessageTypeLink},
			wantText: "mira",
			wantType: "file",
		},
		{
			name:     "explicit type normalized",
			msg:      database.NewMessage{Text: "https://example.com", MessageType: " LINK "},
			wantText: "https://example.com",
			wantType: "link",
		},
		{
			name:     "unknown type falls back to text",
			msg:      database.NewMessage{Text: "hola", MessageType: "sticker"},
			wantText: "hola",
			wantType: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store, _ := newTestStore(t)

			tt.msg.ConversationID = "conv-file"
			saved, err := store.SaveMessage(ctx, tt.msg)
			require.NoError(t, err)
			require.True(t, saved)

			messages, err := store.ListMessages(ctx, "conv-file")
			require.NoError(t, err)
			require.Len(t, messages, 1)
			assert.Equal(t, tt.wantText, messages[0].Text)
			assert.Equal(t, tt.wantType, messages[0].MessageType)
		})
	}
}

func TestSaveMessageMetadataRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	inputs := []any{
		map[string]any{"messageId": "m-1", "links": []any{"https://example.com"}},
		"not json at all",
		`["a","b"]`,
		"   ",
		42,
	}
	for _, metadata := range inputs {
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-meta", Text: "x", Metadata: metadata})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "conv-meta")
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, map[string]any{"messageId": "m-1", "links": []any{"https://example.com"}}, messages[0].Metadata)
	assert.Equal(t, map[string]any{"raw": "not json at all"}, messages[1].Metadata)
	assert.Equal(t, []any{"a", "b"}, messages[2].Metadata)
	assert.Nil(t, messages[3].Metadata)
	assert.Nil(t, messages[4].Metadata)
}

func TestListMessagesSkipsLegacyBlankRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)

	_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-legacy", Text: "visible"})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO messages (conversation_id, sender, text) VALUES ('conv-legacy', 'usuario', '   ')`)
	require.NoError(t, err)

	messages, err := store.ListMessages(ctx, "conv-legacy")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "visible", messages[0].Text)
	assert.Nil(t, messages[0].FileURL)
}

func TestSaveAndGetCachedBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	cached, err := store.GetCachedBalance(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(t, store.SaveBalance(ctx, map[string]any{"ok": true, "balance": 99.0}))
	balance := map[string]any{"ok": true, "balance": 1234.5}
	require.NoError(t, store.SaveBalance(ctx, balance))

	cached, err = store.GetCachedBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, balance, cached)
}

func TestGetCachedBalanceReportsCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db := newTestStore(t)

	_, err := db.ExecContext(ctx, `INSERT INTO config (key, value) VALUES ('balance', '{broken')`)
	require.NoError(t, err)

	cached, err := store.GetCachedBalance(ctx)
	require.Error(t, err)
	assert.Nil(t, cached)
	assert.Equal(t, apperrors.CodeCorruptCache, apperrors.Code(err))
}

func TestDatabaseSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t)

	empty, err := store.DatabaseSize(ctx)
	require.NoError(t, err)
	assert.Positive(t, empty)

	for i := 0; i < 20; i++ {
		_, err := store.SaveMessage(ctx, database.NewMessage{ConversationID: "conv-size", Text: fmt.Sprintf("%04d %0512d", i, i)})
		require.NoError(t, err)
	}

	grown, err := store.DatabaseSize(ctx)
	require.NoError(t, err)
	assert.Greater(t, grown, empty)
}

func TestRunSQLMaintenance(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.RunSQLMaintenance(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.RunSQLMaintenance(ctx), context.Canceled)
}

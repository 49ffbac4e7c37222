// ABOUTME: Tests for the asynchronous conversation service
// ABOUTME: Uses MockStore and a temp-dir archive behind a real worker pool

package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/research-gateway/internal/archive"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/workpool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	ar, err := archive.New(filepath.Join(t.TempDir(), "reports"), testLogger())
	require.NoError(t, err)
	pool := workpool.New(4, testLogger())
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	return New(st, ar, pool, NewEventBroadcaster(testLogger()), testLogger()), st
}

func TestService_CreateChatDefaultsTitle(t *testing.T) {
	svc, _ := newTestService(t)

	chat, err := svc.CreateChat(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, chat.Title)
	assert.NotEmpty(t, chat.ID)
}

func TestService_EnsureChat(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	chat, err := svc.EnsureChat(ctx, "given-id", "Ocean currents")
	require.NoError(t, err)
	assert.Equal(t, "given-id", chat.ID)
	assert.Equal(t, "Ocean currents", chat.Title)

	// Second call finds the existing chat and keeps its title.
	chat, err = svc.EnsureChat(ctx, "given-id", "Other title")
	require.NoError(t, err)
	assert.Equal(t, "Ocean currents", chat.Title)

	chats, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestService_EnsureChatConcurrent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EnsureChat(ctx, "shared", "t")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chats, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestService_AppendMessagePublishesToOthers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "t")
	require.NoError(t, err)

	mine, myID := svc.Broadcaster().Subscribe(testContext(t), chat.ID)
	theirs, _ := svc.Broadcaster().Subscribe(testContext(t), chat.ID)

	msg, err := svc.AppendMessage(ctx, AppendRequest{
		ChatID: chat.ID, Role: store.RoleUser, Content: "hello", Origin: myID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	select {
	case got := <-theirs:
		assert.Equal(t, msg.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("other subscriber did not receive the message")
	}
	select {
	case <-mine:
		t.Fatal("origin received its own message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_AppendMessageUnknownChatIsContractError(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AppendMessage(context.Background(), AppendRequest{ChatID: "ghost", Role: store.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, store.ErrUnknownChat)
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
}

func TestService_StoreFailureIsUnavailable(t *testing.T) {
	svc, st := newTestService(t)
	st.FailWith(nil)

	_, err := svc.ListChats(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, store.ErrMockFailure)

	assert.ErrorIs(t, svc.Ping(context.Background()), ErrStoreUnavailable)
}

func TestService_ReportRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	name, err := svc.SaveReport(ctx, "chat-1", time.Now(), "q", "the body")
	require.NoError(t, err)

	r, err := svc.ReadReport(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "the body", r.Body)

	raw, err := svc.RawReport(ctx, name)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Research Report")

	_, err = svc.ReadReport(ctx, "report_missing_20200101_000000.000.md")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestService_DeleteAndRename(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "before")
	require.NoError(t, err)
	require.NoError(t, svc.RenameChat(ctx, chat.ID, "after"))

	chats, err := svc.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "after", chats[0].Title)

	n, err := svc.DeleteChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.DeleteChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, svc.RenameChat(ctx, "missing", "x"), store.ErrNotFound)
}

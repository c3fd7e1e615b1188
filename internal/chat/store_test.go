package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewRESTStore(srv.URL, "chat-key")
	require.NoError(t, err)
	return store
}

func TestRESTStore_ListMessages(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workspaces/ws1/channels/ch1/messages", r.URL.Path)
		assert.Equal(t, "Bearer chat-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]Message{
			{ID: "m1", WorkspaceID: "ws1", ChannelID: "ch1", UserID: "u1", Content: "hi", CreatedAt: 100},
		})
	})

	messages, err := store.ListMessages(context.Background(), "ws1", "ch1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestRESTStore_GetUserNotFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRESTStore_ListUserMessagesPassesLimit(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/u1/messages", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]Message{})
	})

	messages, err := store.ListUserMessages(context.Background(), "u1", 25)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRESTStore_ServerErrorIsUnavailable(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.ListWorkspaces(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

// ABOUTME: Tests for the session directory REST client.
// ABOUTME: Covers listing order, the create limit policy, deletion, and the guest history fallback.

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mux     *http.ServeMux
	count   int
	created []map[string]string
	deleted []string
	turns   []*Turn
}

func newFakeDirectory(t *testing.T) (*fakeDirectory, *httptest.Server) {
	t.Helper()
	f := &fakeDirectory{mux: http.NewServeMux()}

	f.mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
		json.NewEncoder(w).Encode([]*Session{
			{ID: "s-old", LastActiveAt: old},
			{ID: "s-recent", LastActiveAt: recent},
		})
	})
	f.mux.HandleFunc("GET /api/sessions/count", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"count": f.count})
	})
	f.mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.created = append(f.created, body)
		json.NewEncoder(w).Encode(&Session{
			ID:     "s-new",
			UserID: body["user_id"],
			Name:   body["name"],
		})
	})
	f.mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	f.mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.deleted = append(f.deleted, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("GET /api/sessions/{id}/turns", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.turns)
	})

	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestList_SortedByRecentActivity(t *testing.T) {
	_, srv := newFakeDirectory(t)
	store := NewStore(srv.URL, nil, StoreOptions{})

	sessions, err := store.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-recent", sessions[0].ID)
	assert.Equal(t, "s-old", sessions[1].ID)
}

func TestCreate_UnderLimit(t *testing.T) {
	f, srv := newFakeDirectory(t)
	f.count = 3
	store := NewStore(srv.URL, nil, StoreOptions{MaxSessions: 10})

	sess, err := store.Create(context.Background(), "u1", "My chat")
	require.NoError(t, err)
	assert.Equal(t, "s-new", sess.ID)
	assert.Equal(t, "My chat", sess.Name)
	require.Len(t, f.created, 1)
	assert.Equal(t, "u1", f.created[0]["user_id"])
}

func TestCreate_AtLimitRejectsWithoutRemoteCall(t *testing.T) {
	f, srv := newFakeDirectory(t)
	f.count = 10
	store := NewStore(srv.URL, nil, StoreOptions{MaxSessions: 10})

	_, err := store.Create(context.Background(), "u1", "One too many")
	require.ErrorIs(t, err, ErrSessionLimit)
	assert.Empty(t, f.created, "create must not reach the directory once the limit is hit")
}

func TestDelete_AlsoDropsGuestMirror(t *testing.T) {
	f, srv := newFakeDirectory(t)
	local := openTestLocal(t)
	require.NoError(t, local.ReplaceTurns("s-old", []*Turn{{ID: "t1", Role: "user", Content: "hi"}}))

	store := NewStore(srv.URL, local, StoreOptions{})
	require.NoError(t, store.Delete(context.Background(), "s-old"))

	assert.Equal(t, []string{"s-old"}, f.deleted)
	turns, err := local.Turns("s-old")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTurns_RemoteSortedAscending(t *testing.T) {
	f, srv := newFakeDirectory(t)
	f.turns = []*Turn{
		{ID: "t2", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "t1", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	store := NewStore(srv.URL, nil, StoreOptions{})

	turns, err := store.Turns(context.Background(), "s1", false, 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].ID)
	assert.Equal(t, "t2", turns[1].ID)
}

func TestTurns_GuestFallsBackToMirror(t *testing.T) {
	local := openTestLocal(t)
	require.NoError(t, local.ReplaceTurns("s1", []*Turn{
		{ID: "t1", Role: "user", Content: "hello"},
		{ID: "t2", Role: "assistant", Content: "hi there"},
	}))

	// Directory is unreachable.
	store := NewStore("http://127.0.0.1:1", local, StoreOptions{})

	turns, err := store.Turns(context.Background(), "s1", true, 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[0].Content)

	// Logged-in identities surface the error instead.
	_, err = store.Turns(context.Background(), "s1", false, 50)
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	_, srv := newFakeDirectory(t)
	store := NewStore(srv.URL, nil, StoreOptions{})

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackSession(t *testing.T) {
	sess := FallbackSession("u1")
	assert.True(t, IsLocal(sess.ID))
	assert.Equal(t, "u1", sess.UserID)
	assert.False(t, IsLocal("s-remote"))
}

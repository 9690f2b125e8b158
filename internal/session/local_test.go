// ABOUTME: Tests for the local SQLite state: kv keys and the guest turn mirror.
// ABOUTME: Uses a temp-dir database per test.

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLocal(t *testing.T) *Local {
	t.Helper()
	local, err := OpenLocal(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return local
}

func TestLocal_ActiveSessionRoundTrip(t *testing.T) {
	local := openTestLocal(t)

	id, err := local.ActiveSession()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, local.SetActiveSession("s1"))
	require.NoError(t, local.SetActiveSession("s2"))

	id, err = local.ActiveSession()
	require.NoError(t, err)
	assert.Equal(t, "s2", id, "later writes overwrite wholesale")
}

func TestLocal_GuestIDRoundTrip(t *testing.T) {
	local := openTestLocal(t)

	require.NoError(t, local.SetGuestID("guest-abc"))
	id, err := local.GuestID()
	require.NoError(t, err)
	assert.Equal(t, "guest-abc", id)
}

func TestLocal_TurnMirrorReplacedWholesale(t *testing.T) {
	local := openTestLocal(t)

	require.NoError(t, local.ReplaceTurns("s1", []*Turn{
		{ID: "t1", Role: "user", Content: "first"},
		{ID: "t2", Role: "assistant", Content: "second"},
	}))
	require.NoError(t, local.ReplaceTurns("s1", []*Turn{
		{ID: "t3", Role: "user", Content: "replacement"},
	}))

	turns, err := local.Turns("s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "replacement", turns[0].Content)
}

func TestLocal_TurnMirrorIsPerSession(t *testing.T) {
	local := openTestLocal(t)

	require.NoError(t, local.ReplaceTurns("s1", []*Turn{{ID: "t1", Content: "a"}}))
	require.NoError(t, local.ReplaceTurns("s2", []*Turn{{ID: "t2", Content: "b"}}))

	turns, err := local.Turns("s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].Content)

	require.NoError(t, local.DeleteTurns("s1"))
	turns, err = local.Turns("s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = local.Turns("s2")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

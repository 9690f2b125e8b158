// ABOUTME: Tests for the scoped display preference object.
// ABOUTME: Covers defaults, persistence round-trips, and store failure fallback.

package prefs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	values map[string]string
	err    error
}

func (m *memStore) Pref(key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[key], nil
}

func (m *memStore) SetPref(key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func TestDefaults(t *testing.T) {
	p := New(nil, nil)
	assert.False(t, p.ShowSteps(), "steps hidden by default")
	assert.True(t, p.ShowSources(), "sources shown by default")
}

func TestSetPersists(t *testing.T) {
	store := &memStore{}
	p := New(store, nil)

	p.SetShowSteps(true)
	p.SetShowSources(false)

	require.True(t, p.ShowSteps())
	require.False(t, p.ShowSources())

	// A second instance over the same store picks up the saved values.
	reloaded := New(store, nil)
	assert.True(t, reloaded.ShowSteps())
	assert.False(t, reloaded.ShowSources())
}

func TestNilStoreInMemoryOnly(t *testing.T) {
	p := New(nil, nil)
	p.SetShowSteps(true)
	assert.True(t, p.ShowSteps())

	fresh := New(nil, nil)
	assert.False(t, fresh.ShowSteps(), "nothing persisted without a store")
}

func TestStoreFailureFallsBackToDefaults(t *testing.T) {
	store := &memStore{err: errors.New("disk gone")}
	p := New(store, nil)

	assert.False(t, p.ShowSteps())
	assert.True(t, p.ShowSources())

	// Sets still apply in memory even when persistence fails.
	p.SetShowSteps(true)
	assert.True(t, p.ShowSteps())
}

func TestGarbageStoredValueIgnored(t *testing.T) {
	store := &memStore{values: map[string]string{"show_steps": "maybe"}}
	p := New(store, nil)
	assert.False(t, p.ShowSteps())
}

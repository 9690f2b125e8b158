// ABOUTME: Scoped display preferences: one object owned by the app, not a package singleton.
// ABOUTME: Exposes read and set operations only; values persist through an optional store.

package prefs

import (
	"log/slog"
	"sync"
)

// Store persists preference values across runs. *session.Local satisfies it.
type Store interface {
	Pref(key string) (string, error)
	SetPref(key, value string) error
}

// Persisted preference keys.
const (
	keyShowSteps   = "show_steps"
	keyShowSources = "show_sources"
)

// Prefs holds display preferences for one application instance. Construct it
// at startup and pass it to whatever renders turns; there is no package-level
// instance to mutate from a distance.
type Prefs struct {
	mu     sync.RWMutex
	store  Store
	logger *slog.Logger

	showSteps   bool
	showSources bool
}

// New builds a Prefs seeded from the store. A nil store makes the preferences
// in-memory only. Unreadable stored values fall back to defaults: steps
// hidden, sources shown.
func New(store Store, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prefs{
		store:       store,
		logger:      logger.With("component", "prefs"),
		showSources: true,
	}
	if store != nil {
		p.showSteps = p.load(keyShowSteps, false)
		p.showSources = p.load(keyShowSources, true)
	}
	return p
}

func (p *Prefs) load(key string, def bool) bool {
	value, err := p.store.Pref(key)
	if err != nil {
		p.logger.Warn("failed to read preference", "key", key, "error", err)
		return def
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

func (p *Prefs) save(key string, value bool) {
	if p.store == nil {
		return
	}
	text := "false"
	if value {
		text = "true"
	}
	if err := p.store.SetPref(key, text); err != nil {
		p.logger.Warn("failed to persist preference", "key", key, "error", err)
	}
}

// ShowSteps reports whether agent reasoning steps should be rendered.
func (p *Prefs) ShowSteps() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.showSteps
}

// SetShowSteps toggles rendering of agent reasoning steps.
func (p *Prefs) SetShowSteps(v bool) {
	p.mu.Lock()
	p.showSteps = v
	p.mu.Unlock()
	p.save(keyShowSteps, v)
}

// ShowSources reports whether source citations should be rendered.
func (p *Prefs) ShowSources() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.showSources
}

// SetShowSources toggles rendering of source citations.
func (p *Prefs) SetShowSources(v bool) {
	p.mu.Lock()
	p.showSources = v
	p.mu.Unlock()
	p.save(keyShowSources, v)
}

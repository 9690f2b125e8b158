// ABOUTME: REST client for the remote session directory with a client-side limit policy.
// ABOUTME: Falls back to local state for guests and to a synthesized session when offline.

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StoreOptions configures a Store. Zero values fall back to defaults.
type StoreOptions struct {
	MaxSessions int // per-identity ceiling, enforced before create
	Token       string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Store is the client for the session directory. All remote calls go through
// it; it also owns the local fallback state (active session, guest identity,
// guest turn mirror).
type Store struct {
	baseURL     string
	httpClient  *http.Client
	maxSessions int
	token       string
	local       *Local
	logger      *slog.Logger
}

// NewStore creates a session store for the directory at baseURL. local may
// be nil, in which case guest persistence and active-session resume are
// disabled.
func NewStore(baseURL string, local *Local, opts StoreOptions) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		baseURL:     baseURL,
		httpClient:  opts.HTTPClient,
		maxSessions: opts.MaxSessions,
		token:       opts.Token,
		local:       local,
		logger:      opts.Logger.With("component", "session"),
	}
}

// Local exposes the local fallback state, or nil if none was configured.
func (s *Store) Local() *Local {
	return s.local
}

// List returns the identity's sessions sorted by most recent activity.
func (s *Store) List(ctx context.Context, userID string) ([]*Session, error) {
	var sessions []*Session
	path := "/api/sessions?user_id=" + url.QueryEscape(userID)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})
	return sessions, nil
}

// Count returns how many sessions the identity currently has.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := "/api/sessions/count?user_id=" + url.QueryEscape(userID)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Create makes a new session for the identity. The limit is checked first:
// at or above the ceiling Create returns ErrSessionLimit without attempting
// the remote call.
func (s *Store) Create(ctx context.Context, userID, name string) (*Session, error) {
	count, err := s.Count(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checking session count: %w", err)
	}
	if count >= s.maxSessions {
		return nil, fmt.Errorf("%w: %d of %d used", ErrSessionLimit, count, s.maxSessions)
	}

	body := map[string]string{"user_id": userID, "name": name}
	var created Session
	if err := s.doJSON(ctx, http.MethodPost, "/api/sessions", body, &created); err != nil {
		return nil, err
	}
	s.logger.Debug("session created", "session_id", created.ID, "user_id", userID)
	return &created, nil
}

// Get fetches one session's metadata.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Update pushes name, activity time, message count, and preview.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	body := map[string]any{
		"name":           sess.Name,
		"last_active_at": sess.LastActiveAt,
		"message_count":  sess.MessageCount,
		"preview":        sess.Preview,
	}
	return s.doJSON(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(sess.ID), body, nil)
}

// Delete removes a session and, for guests, its mirrored local history.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	if s.local != nil {
		if err := s.local.DeleteTurns(id); err != nil {
			s.logger.Warn("could not delete mirrored turns", "session_id", id, "error", err)
		}
	}
	return nil
}

// Turns fetches a session's persisted history, oldest first. For guest
// identities an unreachable directory falls back to the local mirror.
func (s *Store) Turns(ctx context.Context, id string, guest bool, limit int) ([]*Turn, error) {
	path := fmt.Sprintf("/api/sessions/%s/turns?limit=%d", url.PathEscape(id), limit)
	var turns []*Turn
	err := s.doJSON(ctx, http.MethodGet, path, nil, &turns)
	if err != nil {
		if guest && s.local != nil {
			s.logger.Warn("directory unreachable, using mirrored history", "session_id", id, "error", err)
			return s.local.Turns(id)
		}
		return nil, err
	}
	sort.Slice(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
	return turns, nil
}

// MirrorTurns rewrites the local history mirror for a guest session. It is a
// no-op for logged-in identities, whose history lives in the directory.
func (s *Store) MirrorTurns(id string, guest bool, turns []*Turn) {
	if !guest || s.local == nil {
		return
	}
	if err := s.local.ReplaceTurns(id, turns); err != nil {
		s.logger.Warn("could not mirror turns locally", "session_id", id, "error", err)
	}
}

// FallbackSession synthesizes a local-only session identity for degraded
// mode, used when the directory is unreachable at startup. Nothing about it
// is persisted remotely.
func FallbackSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           "local-" + uuid.New().String(),
		UserID:       userID,
		Name:         "New conversation",
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// IsLocal reports whether a session ID names a degraded-mode local session.
func IsLocal(id string) bool {
	return len(id) > 6 && id[:6] == "local-"
}

// doJSON performs one request against the directory, encoding body and
// decoding the response into out when non-nil.
func (s *Store) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session directory returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

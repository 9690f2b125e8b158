// ABOUTME: HTTP client for the clinical agent endpoint: liveness probe and streamed asks.
// ABOUTME: Ask opens a POST with an SSE response body and hands it to a stream.Decoder.

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lantern-health/chartclient/internal/stream"
)

// ErrUnavailable indicates the agent endpoint failed the liveness probe.
var ErrUnavailable = errors.New("agent endpoint unavailable")

// DefaultHealthTimeout bounds the liveness probe so a dead backend fails fast
// instead of hanging a send for a full transport timeout.
const DefaultHealthTimeout = 3 * time.Second

// AskRequest is the JSON body sent to POST /ask.
type AskRequest struct {
	Query      string `json:"query"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id,omitempty"`
	PatientID  string `json:"patient_id,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
	RerankTopK int    `json:"rerank_top_k,omitempty"`
}

// Turn is one in-flight streamed ask. Events are read from Events; Stop
// cancels the turn as a user action (not a failure). Close must be called
// when the turn is finished to release the transport and timers.
type Turn struct {
	Events *stream.Decoder

	stop          context.CancelCauseFunc
	cancelTimeout context.CancelFunc
}

// Stop cancels the turn on behalf of the user. The decoder will synthesize a
// stopped status rather than an error.
func (t *Turn) Stop() {
	t.stop(stream.ErrStopped)
}

// Close releases the turn's transport and context resources.
func (t *Turn) Close() {
	t.Events.Close()
	t.cancelTimeout()
	t.stop(context.Canceled)
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	TurnTimeout   time.Duration // ceiling on total turn duration
	HealthTimeout time.Duration // ceiling on the liveness probe
	Token         string        // optional bearer token
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client talks to the agent service over HTTP.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	turnTimeout   time.Duration
	healthTimeout time.Duration
	token         string
	logger        *slog.Logger
}

// NewClient creates a client for the agent service at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = stream.DefaultTurnTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    opts.HTTPClient,
		turnTimeout:   opts.TurnTimeout,
		healthTimeout: opts.HealthTimeout,
		token:         opts.Token,
		logger:        opts.Logger.With("component", "agent"),
	}
}

// Health probes the agent endpoint. Returns ErrUnavailable (wrapped with
// detail) unless the endpoint answers 2xx within the health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Ask opens a streamed turn. The returned Turn's decoder yields events until
// the server finishes, the turn ceiling elapses, or the caller stops it.
// A non-2xx response fails here, before any decoder is created.
func (c *Client) Ask(ctx context.Context, askReq AskRequest) (*Turn, error) {
	body, err := json.Marshal(askReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	// Two layers of cancellation: an explicit user stop (with ErrStopped as
	// the cause) and the turn ceiling. The decoder inspects the cause to
	// tell them apart.
	ctx, stop := context.WithCancelCause(ctx)
	ctx, cancelTimeout := context.WithTimeout(ctx, c.turnTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewReader(body))
	if err != nil {
		cancelTimeout()
		stop(context.Canceled)
		return nil, fmt.Errorf("creating ask request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancelTimeout()
		stop(context.Canceled)
		return nil, fmt.Errorf("sending ask request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancelTimeout()
		stop(context.Canceled)
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, readErrorMessage(resp))
	}

	c.logger.Debug("turn opened", "session_id", askReq.SessionID)

	return &Turn{
		Events:        stream.New(ctx, resp.Body, c.logger),
		stop:          stop,
		cancelTimeout: cancelTimeout,
	}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readErrorMessage pulls a JSON {"error": "..."} message out of a failed
// response body, falling back to the HTTP status text.
func readErrorMessage(resp *http.Response) string {
	var errResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
		if msg, ok := errResp["error"]; ok && msg != "" {
			return msg
		}
	}
	return http.StatusText(resp.StatusCode)
}

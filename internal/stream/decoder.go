// ABOUTME: Pull decoder that frames a chunked SSE response body into typed Events.
// ABOUTME: Handles partial lines across reads, malformed records, timeout, and cancellation.

package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultTurnTimeout is the ceiling on total turn duration. The agent can
// legitimately run for many minutes on a hard question, so this is generous,
// but a turn that outlives it is aborted rather than left hanging forever.
const DefaultTurnTimeout = 30 * time.Minute

// StoppedStatusText is the synthesized status emitted when the user cancels a turn.
const StoppedStatusText = "Stopped by user"

// ErrStopped is the cancellation cause used when the user stops a turn.
// Cancellation is not a failure; the decoder reports it as OutcomeStopped.
var ErrStopped = errors.New("stopped by user")

// ErrTurnTimeout is reported when a turn exceeds the configured ceiling.
var ErrTurnTimeout = errors.New("turn exceeded maximum duration")

// Records can carry a full final response with sources, so the line buffer
// needs headroom well beyond bufio's 64K default.
const maxRecordSize = 4 * 1024 * 1024

// Outcome describes how the stream ended.
type Outcome int

const (
	OutcomeOpen    Outcome = iota // still streaming
	OutcomeEOF                    // server closed the stream normally
	OutcomeStopped                // cancelled by the user (or parent context)
	OutcomeTimeout                // turn ceiling elapsed
	OutcomeFailed                 // transport read error
)

// Decoder turns a streamed response body into an ordered, single-pass
// sequence of Events. It is not restartable and holds no conversation state.
//
// The context passed to New controls the decoder's lifetime: cancel it with
// cause ErrStopped for a user stop, or give it a deadline for the turn
// ceiling. Either way the underlying transport read fails promptly and the
// decoder synthesizes a final event describing what happened.
type Decoder struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	done    bool
	outcome Outcome
	err     error
}

// New creates a Decoder over a response body. The body is closed when the
// stream ends, is cancelled, or Close is called.
func New(ctx context.Context, body io.ReadCloser, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	return &Decoder{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		logger:  logger.With("component", "stream"),
	}
}

// Next returns the next event in the stream. It blocks until a complete
// record arrives, the stream ends, or the context is done. The second return
// is false once the stream is exhausted; after a synthesized terminal event
// (stopped status or timeout/transport error) the next call returns false.
func (d *Decoder) Next() (Event, bool) {
	if d.done {
		return Event{}, false
	}

	for {
		// A stop request wins the race against buffered data: once the
		// context is done, no further domain events are dispatched.
		select {
		case <-d.ctx.Done():
			return d.finish()
		default:
		}

		if !d.scanner.Scan() {
			return d.finish()
		}

		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			// SSE comments, event: lines, and keepalives are not records.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			d.logger.Warn("dropping malformed stream record", "error", err)
			continue
		}
		if !knownTypes[ev.Type] {
			d.logger.Debug("ignoring unknown event type", "type", string(ev.Type))
			continue
		}
		return ev, true
	}
}

// finish classifies how the stream ended and synthesizes the terminal event.
func (d *Decoder) finish() (Event, bool) {
	d.done = true
	d.body.Close()

	cause := context.Cause(d.ctx)
	switch {
	case errors.Is(cause, ErrStopped), errors.Is(cause, context.Canceled):
		d.outcome = OutcomeStopped
		return Event{Type: EventStatus, Text: StoppedStatusText}, true

	case errors.Is(cause, context.DeadlineExceeded):
		d.outcome = OutcomeTimeout
		d.err = ErrTurnTimeout
		return Event{Type: EventError, Error: "the assistant took too long to respond"}, true
	}

	if err := d.scanner.Err(); err != nil {
		d.outcome = OutcomeFailed
		d.err = err
		return Event{Type: EventError, Error: err.Error()}, true
	}

	d.outcome = OutcomeEOF
	return Event{}, false
}

// Outcome reports how the stream ended. It is OutcomeOpen until the decoder
// is exhausted.
func (d *Decoder) Outcome() Outcome {
	return d.outcome
}

// Err returns the terminal error for OutcomeTimeout or OutcomeFailed, nil otherwise.
func (d *Decoder) Err() error {
	return d.err
}

// Close releases the underlying transport. Safe to call more than once.
func (d *Decoder) Close() error {
	d.done = true
	return d.body.Close()
}

// ABOUTME: ConversationController: optimistic inserts, in-flight turn lifecycle, step timeline.
// ABOUTME: At most one turn in flight; a second send while streaming is a deliberate no-op.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lantern-health/chartclient/internal/agent"
	"github.com/lantern-health/chartclient/internal/session"
	"github.com/lantern-health/chartclient/internal/stream"
)

// ErrEmptyQuery is returned by Send for blank input.
var ErrEmptyQuery = errors.New("query is empty")

// Fixed user-facing strings the placeholder is rewritten to.
const (
	errorMessageText   = "Sorry, I ran into a problem answering that. Please try again."
	stoppedMessageText = "Stopped by user."
)

// DefaultHistoryLimit caps how many persisted turns a session load fetches.
const DefaultHistoryLimit = 50

// persistTimeout bounds the post-turn session metadata update, which runs
// detached from the caller's context.
const persistTimeout = 10 * time.Second

// AgentClient is what the controller needs from the agent transport.
type AgentClient interface {
	Health(ctx context.Context) error
	Ask(ctx context.Context, req agent.AskRequest) (*agent.Turn, error)
}

// Directory is what the controller needs from the session store.
type Directory interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Create(ctx context.Context, userID, name string) (*session.Session, error)
	Update(ctx context.Context, sess *session.Session) error
	Turns(ctx context.Context, id string, guest bool, limit int) ([]*session.Turn, error)
	MirrorTurns(id string, guest bool, turns []*session.Turn)
}

// EventSink receives every stream event of the current turn plus the turn
// boundary calls. The pipeline deriver implements it.
type EventSink interface {
	Reset()
	Observe(ev stream.Event)
	Finalize(successful bool)
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	TopK         int            // retrieval tuning, passed through on the wire
	RerankTopK   int
	HistoryLimit int
	Sink         EventSink      // optional: the pipeline deriver
	Notify       func()         // optional: called after every state change
	Local        *session.Local // optional: active-session persistence
	Logger       *slog.Logger
}

// Controller owns the message list, the in-flight turn, and the per-turn
// step timeline. All exported methods are safe for concurrent use; shared
// state is only ever mutated here.
type Controller struct {
	agentClient AgentClient
	directory   Directory
	identity    session.Identity
	topK        int
	rerankTopK  int
	historyLim  int
	sink        EventSink
	notifyFn    func()
	local       *session.Local
	logger      *slog.Logger

	mu            sync.Mutex
	active        *session.Session
	messages      []*Message
	steps         []AgentStep
	turnToolCalls []string
	statusText    string
	lastErr       error
	inFlight      bool
	stopRequested bool
	turn          *agent.Turn
	suppressLoad  map[string]bool // one-shot, keyed by session ID
}

// NewController creates a controller for one identity.
func NewController(agentClient AgentClient, directory Directory, identity session.Identity, opts Options) *Controller {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		agentClient:  agentClient,
		directory:    directory,
		identity:     identity,
		topK:         opts.TopK,
		rerankTopK:   opts.RerankTopK,
		historyLim:   opts.HistoryLimit,
		sink:         opts.Sink,
		notifyFn:     opts.Notify,
		local:        opts.Local,
		logger:       opts.Logger.With("component", "conversation"),
		suppressLoad: make(map[string]bool),
	}
}

// Send starts a turn for the given query. Blank input is rejected with
// ErrEmptyQuery. If a turn is already in flight the call is a no-op: nothing
// is inserted and nil is returned. A failed liveness probe surfaces
// immediately without touching the message list.
func (c *Controller) Send(ctx context.Context, text, patientID string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuery
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("send ignored, turn already in flight")
		return nil
	}
	c.mu.Unlock()

	// Fast-fail liveness probe before any message mutation.
	if err := c.agentClient.Health(ctx); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil
	}

	sess := c.active
	if sess == nil {
		created, err := c.createSession(ctx, text)
		if err != nil {
			c.lastErr = err
			c.mu.Unlock()
			c.notify()
			return err
		}
		sess = created
		c.active = sess
		// The freshly created session has an empty remote history; suppress
		// the next load for it so it cannot overwrite the optimistic insert.
		c.suppressLoad[sess.ID] = true
		c.persistActive(sess.ID)
	}
	firstTurn := sess.MessageCount == 0 && len(c.messages) == 0

	now := time.Now()
	userMsg := &Message{ID: uuid.New().String(), Role: RoleUser, Content: text, CreatedAt: now}
	placeholder := &Message{ID: uuid.New().String(), Role: RoleAssistant, CreatedAt: now, Streaming: true}
	c.messages = append(c.messages, userMsg, placeholder)
	c.steps = nil
	c.turnToolCalls = nil
	c.statusText = ""
	c.lastErr = nil
	c.inFlight = true
	c.stopRequested = false
	sessID := sess.ID
	placeholderID := placeholder.ID
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Reset()
	}
	c.notify()

	go c.run(ctx, sessID, placeholderID, text, patientID, firstTurn)
	return nil
}

// createSession resolves the target session for a first send. The session
// limit propagates as-is; any other directory failure degrades to a
// local-only session so the product stays usable.
func (c *Controller) createSession(ctx context.Context, query string) (*session.Session, error) {
	created, err := c.directory.Create(ctx, c.identity.ID, session.SessionName(query))
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			return nil, err
		}
		c.logger.Warn("session directory unavailable, degrading to local session", "error", err)
		return session.FallbackSession(c.identity.ID), nil
	}
	return created, nil
}

// run consumes the turn's event stream. It owns the turn from open to close.
func (c *Controller) run(ctx context.Context, sessID, placeholderID, query, patientID string, firstTurn bool) {
	turn, err := c.agentClient.Ask(ctx, agent.AskRequest{
		Query:      query,
		SessionID:  sessID,
		UserID:     c.identity.ID,
		PatientID:  patientID,
		TopK:       c.topK,
		RerankTopK: c.rerankTopK,
	})
	if err != nil {
		c.failTurn(placeholderID, err)
		return
	}
	defer turn.Close()

	c.mu.Lock()
	c.turn = turn
	if c.stopRequested {
		// Stop raced the transport open; honor it now.
		turn.Stop()
	}
	c.mu.Unlock()

	completed := false
	var serverErr string
	for {
		ev, ok := turn.Events.Next()
		if !ok {
			break
		}
		if c.sink != nil {
			c.sink.Observe(ev)
		}
		switch ev.Type {
		case stream.EventComplete:
			completed = true
		case stream.EventError:
			serverErr = ev.Error
		}
		c.apply(ev, placeholderID)
		c.notify()
	}

	c.finish(turn, sessID, placeholderID, query, firstTurn, completed, serverErr)
}

// apply folds one event into controller state.
func (c *Controller) apply(ev stream.Event, placeholderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case stream.EventStatus:
		c.statusText = ev.Text

	case stream.EventTool:
		c.turnToolCalls = append(c.turnToolCalls, ev.Tool)
		c.steps = append(c.steps, AgentStep{Kind: StepToolCall, Tool: ev.Tool, Text: ev.Text})

	case stream.EventToolResult:
		c.steps = append(c.steps, AgentStep{Kind: StepToolResult, Tool: ev.Tool, Text: ev.Text, Iteration: ev.Iteration})

	case stream.EventResearcher:
		c.steps = append(c.steps, AgentStep{Kind: StepResearcher, Text: ev.Text, Iteration: ev.Iteration})

	case stream.EventValidator:
		c.steps = append(c.steps, AgentStep{Kind: StepValidator, Text: ev.Text, Iteration: ev.Iteration, Verdict: ev.Verdict})

	case stream.EventResponse:
		c.steps = append(c.steps, AgentStep{Kind: StepResponse, Text: ev.Text, Iteration: ev.Iteration})

	case stream.EventComplete:
		msg := c.findMessage(placeholderID)
		if msg == nil {
			// The user switched sessions mid-stream and the list was
			// replaced. The turn still belongs to the session it started
			// against; metadata is persisted in finish, but there is no
			// placeholder left to fill in.
			c.logger.Warn("completion arrived for a replaced message list", "message_id", placeholderID)
			return
		}
		msg.Content = ev.Response
		msg.Sources = ev.Sources
		if len(ev.ToolCalls) > 0 {
			msg.ToolCalls = ev.ToolCalls
		} else {
			msg.ToolCalls = c.turnToolCalls
		}
		msg.Streaming = false
		c.statusText = ""
	}
}

// finish resolves the turn exactly once: placeholder rewrite on stop or
// failure, session persistence on success, in-flight guard release always.
func (c *Controller) finish(turn *agent.Turn, sessID, placeholderID, query string, firstTurn, completed bool, serverErr string) {
	outcome := turn.Events.Outcome()

	// Resolve the stage set before the guard releases so readers gating on
	// Busy never observe an unresolved pipeline.
	if c.sink != nil {
		c.sink.Finalize(completed)
	}

	c.mu.Lock()
	switch {
	case completed:
		// Placeholder already finalized by apply.

	case outcome == stream.OutcomeStopped:
		if msg := c.findMessage(placeholderID); msg != nil {
			msg.Content = stoppedMessageText
			msg.Streaming = false
		}
		c.statusText = stream.StoppedStatusText

	default:
		if msg := c.findMessage(placeholderID); msg != nil {
			msg.Content = errorMessageText
			msg.Streaming = false
		}
		err := turn.Events.Err()
		if serverErr != "" {
			err = fmt.Errorf("agent error: %s", serverErr)
		}
		if err == nil {
			err = errors.New("stream ended before completion")
		}
		c.lastErr = err
		c.statusText = ""
	}
	c.inFlight = false
	c.stopRequested = false
	c.turn = nil
	sameSession := c.active != nil && c.active.ID == sessID
	var mirror []*session.Turn
	if completed && sameSession {
		mirror = turnsFromMessages(c.messages)
	}
	c.mu.Unlock()

	c.notify()

	if !completed {
		return
	}
	if !sameSession {
		// Known boundary condition: the in-flight turn belongs to the
		// session active when it started, which is no longer selected.
		c.logger.Warn("turn completed for a session that is no longer active", "session_id", sessID)
	}
	c.persistTurn(sessID, query, firstTurn, sameSession, mirror)
}

// failTurn handles a transport open failure: the placeholder becomes the
// fixed error text and the guard is released so a retry is possible.
func (c *Controller) failTurn(placeholderID string, err error) {
	if c.sink != nil {
		c.sink.Finalize(false)
	}

	c.mu.Lock()
	if msg := c.findMessage(placeholderID); msg != nil {
		msg.Content = errorMessageText
		msg.Streaming = false
	}
	c.lastErr = err
	c.statusText = ""
	c.inFlight = false
	c.stopRequested = false
	c.turn = nil
	c.mu.Unlock()

	c.notify()
}

// persistTurn pushes session metadata (and the first-turn rename) after a
// completed turn. Best-effort: failures are logged, never surfaced.
func (c *Controller) persistTurn(sessID, query string, firstTurn, sameSession bool, mirror []*session.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	c.mu.Lock()
	var sess *session.Session
	if sameSession && c.active != nil {
		sess = c.active
		sess.LastActiveAt = time.Now()
		sess.MessageCount += 2
		if firstTurn {
			sess.Name = session.SessionName(query)
			sess.Preview = session.Preview(query, session.DefaultPreviewLength)
		}
		copied := *sess
		sess = &copied
	}
	c.mu.Unlock()

	if sess != nil && !session.IsLocal(sess.ID) {
		if err := c.directory.Update(ctx, sess); err != nil {
			c.logger.Warn("session update failed", "session_id", sessID, "error", err)
		}
	}
	if mirror != nil {
		c.directory.MirrorTurns(sessID, c.identity.Guest, mirror)
	}
}

// Stop cancels the in-flight turn. No-op when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	turn := c.turn
	if turn == nil {
		// Transport still opening; run will honor the request.
		c.stopRequested = true
	}
	c.mu.Unlock()

	if turn != nil {
		turn.Stop()
	}
}

// Clear discards in-memory messages and per-turn accumulator state. The
// remote session is untouched.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.messages = nil
	c.steps = nil
	c.turnToolCalls = nil
	c.statusText = ""
	c.lastErr = nil
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Reset()
	}
	c.notify()
}

// LoadForSession replaces the in-memory message list with the persisted
// history of a session, oldest first. The load is suppressed exactly once
// for a session the controller itself just created, so the fresh (empty)
// remote history cannot clobber the optimistic insert.
func (c *Controller) LoadForSession(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.suppressLoad[id] {
		delete(c.suppressLoad, id)
		c.mu.Unlock()
		c.logger.Debug("history load suppressed for freshly created session", "session_id", id)
		return nil
	}
	current := c.active
	c.mu.Unlock()

	var sess *session.Session
	if current != nil && current.ID == id {
		sess = current
	} else if session.IsLocal(id) {
		return fmt.Errorf("%w: local session %s has no persisted history", session.ErrNotFound, id)
	} else {
		fetched, err := c.directory.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("loading session %s: %w", id, err)
		}
		sess = fetched
	}

	turns, err := c.directory.Turns(ctx, id, c.identity.Guest, c.historyLim)
	if err != nil {
		return fmt.Errorf("loading history for session %s: %w", id, err)
	}

	msgs := make([]*Message, 0, len(turns))
	for _, t := range turns {
		role := RoleAssistant
		if t.Role == string(RoleUser) {
			role = RoleUser
		}
		msgs = append(msgs, &Message{
			ID:        t.ID,
			Role:      role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
			Sources:   t.Sources,
			ToolCalls: t.ToolCalls,
		})
	}

	c.mu.Lock()
	c.active = sess
	c.messages = msgs
	c.steps = nil
	c.turnToolCalls = nil
	c.statusText = ""
	c.lastErr = nil
	c.persistActive(id)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Reset()
	}
	c.notify()
	return nil
}

// Resume reloads the session that was active before the last shutdown.
// No-op when nothing was persisted.
func (c *Controller) Resume(ctx context.Context) error {
	if c.local == nil {
		return nil
	}
	id, err := c.local.ActiveSession()
	if err != nil || id == "" {
		return err
	}
	return c.LoadForSession(ctx, id)
}

// ForgetSession drops local state for a deleted session. If it was active
// the controller transitions to "no active session"; the next send creates
// a fresh one.
func (c *Controller) ForgetSession(id string) {
	c.mu.Lock()
	delete(c.suppressLoad, id)
	wasActive := c.active != nil && c.active.ID == id
	if wasActive {
		c.active = nil
		c.messages = nil
		c.steps = nil
		c.turnToolCalls = nil
		c.statusText = ""
		c.persistActive("")
	}
	c.mu.Unlock()

	if wasActive {
		if c.sink != nil {
			c.sink.Reset()
		}
		c.notify()
	}
}

// SetFeedback records the user's verdict on an assistant message.
func (c *Controller) SetFeedback(messageID string, f Feedback) {
	c.mu.Lock()
	if msg := c.findMessage(messageID); msg != nil && msg.Role == RoleAssistant {
		msg.Feedback = f
	}
	c.mu.Unlock()
	c.notify()
}

// Messages returns a snapshot of the message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// Steps returns a snapshot of the current turn's step timeline.
func (c *Controller) Steps() []AgentStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AgentStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// StatusText returns the live status line of the in-flight turn.
func (c *Controller) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusText
}

// Err returns the single surfaced error slot; each turn-aborting failure
// overwrites the previous one.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Busy reports whether a turn is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ActiveSession returns a copy of the active session, or nil.
func (c *Controller) ActiveSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	copied := *c.active
	return &copied
}

// Identity returns the identity this controller was built for.
func (c *Controller) Identity() session.Identity {
	return c.identity
}

func (c *Controller) findMessage(id string) *Message {
	for _, m := range c.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// persistActive stores the active session ID locally. Callers hold c.mu.
func (c *Controller) persistActive(id string) {
	if c.local == nil {
		return
	}
	if err := c.local.SetActiveSession(id); err != nil {
		c.logger.Warn("could not persist active session", "error", err)
	}
}

func (c *Controller) notify() {
	if c.notifyFn != nil {
		c.notifyFn()
	}
}

// turnsFromMessages converts the in-memory list to persisted-turn form for
// the guest mirror. Callers hold c.mu.
func turnsFromMessages(msgs []*Message) []*session.Turn {
	turns := make([]*session.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Streaming {
			continue
		}
		turns = append(turns, &session.Turn{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Sources:   m.Sources,
			ToolCalls: m.ToolCalls,
		})
	}
	return turns
}

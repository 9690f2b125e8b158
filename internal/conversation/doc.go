// Package conversation owns the client-side state of a chart conversation.
//
// # Overview
//
// The Controller is the single authority over the message list, the in-flight
// turn, and the per-turn step timeline. Presentation layers read snapshots and
// call the exported operations; they never mutate conversation state directly.
//
//	ctrl := conversation.NewController(client, store, identity, opts)
//	ctrl.Send(ctx, "when was the last a1c drawn?", patientID)
//
// Key operations:
//
//   - Send(ctx, text, patientID): start a turn with an optimistic user insert
//   - Stop(): cancel the in-flight turn as a user action
//   - LoadForSession(ctx, id): replace the message list with persisted history
//   - Resume(ctx): reload the session active before the last shutdown
//   - SetFeedback(id, verdict): record a helpful/unhelpful verdict
//
// # Turn Lifecycle
//
// A send performs a fast liveness probe, resolves the target session (creating
// one named after the query when none is active), then appends two messages:
// the user's text and a streaming assistant placeholder. A background
// goroutine consumes the event stream and folds each event into controller
// state; the placeholder is found by ID and finalized in place exactly once,
// either to the agent's response or to a fixed error/stopped string.
//
// At most one turn is in flight. A second Send while streaming is a silent
// no-op rather than an error: the input surface treats a busy controller as
// "button disabled", not as a failure.
//
// # Session Coupling
//
// Completed turns push session metadata (activity time, message count, and on
// the first turn a name and preview derived from the query) back to the
// directory, best-effort. Guest histories are additionally mirrored into the
// local store since the directory may not retain them. If the user switches
// sessions mid-stream the completion has no placeholder left to fill; the
// turn's metadata still persists against the session it started under.
//
// # Degraded Mode
//
// When the directory cannot create a session, the controller synthesizes a
// local-only session so asking still works; history for such sessions is not
// persisted remotely. The session limit is the one directory error that
// propagates to the caller, since the product reaction (offer a deletion) is
// a user decision.
package conversation

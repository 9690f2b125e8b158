// Package pipeline infers which backend pipeline stages ran during a turn.
//
// The backend streams human-readable status lines, not structured stage
// markers, so the Deriver maps events onto the fixed stage set by matching
// status phrases and tool names. All wording knowledge lives in the Matcher's
// TOML phrase table (embedded by default, overridable from a file); nothing
// else in the client is coupled to backend phrasing. Stage status moves
// forward only, and Finalize resolves every stage to completed or skipped at
// turn end.
package pipeline

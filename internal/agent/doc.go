// Package agent is the HTTP client for the clinical agent endpoint.
//
// Health is a short-timeout liveness probe used to fail a send fast before
// any conversation state changes. Ask opens a streamed turn: a POST whose
// response body is handed to a stream.Decoder, wrapped in a Turn that can be
// stopped by the user or closed when drained. A user stop and the turn
// ceiling are separate cancellation layers so the decoder can report which
// one ended the stream.
package agent

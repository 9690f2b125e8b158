// Package stream decodes the agent's SSE response body into typed events.
//
// # Decoding
//
// The agent answers a POST with newline-delimited records of the form
//
//	data: {"type": "status", "text": "Searching the chart..."}
//
// The Decoder is pull-based: callers loop over Next until it reports no more
// events, then inspect Outcome and Err for how the stream ended. Records that
// fail to parse and event types the client does not know are skipped, not
// fatal, so the backend can add event types without breaking older clients.
//
// # Termination
//
// Next never yields events after the stream's context is done. The decoder
// tells a user stop apart from a turn timeout by the cancellation cause:
// ErrStopped synthesizes a final "Stopped by user" status event, a deadline
// synthesizes an error event, and both are reflected in Outcome. Transport
// errors mid-stream surface as a synthetic error event with OutcomeFailed.
package stream

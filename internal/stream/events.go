// ABOUTME: Wire-level event types decoded from the agent's SSE response stream.
// ABOUTME: One flat Event struct discriminated by the Type tag, matching the backend JSON.

package stream

// EventType is the top-level discriminator of a stream record.
type EventType string

const (
	EventStart      EventType = "start"
	EventStatus     EventType = "status"
	EventTool       EventType = "tool"
	EventToolResult EventType = "tool_result"
	EventResearcher EventType = "researcher_output"
	EventValidator  EventType = "validator_output"
	EventResponse   EventType = "response_output"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// knownTypes is the set of event types the decoder will surface.
// Anything else is dropped for forward compatibility.
var knownTypes = map[EventType]bool{
	EventStart:      true,
	EventStatus:     true,
	EventTool:       true,
	EventToolResult: true,
	EventResearcher: true,
	EventValidator:  true,
	EventResponse:   true,
	EventComplete:   true,
	EventError:      true,
}

// Source is one retrieved document reference carried by a complete event.
type Source struct {
	DocID   string `json:"doc_id"`
	Preview string `json:"preview"`
}

// Event is a single decoded record from the agent stream.
// Fields beyond Type are populated depending on the event type:
//   - status: Text
//   - tool: Tool
//   - tool_result: Tool, Text
//   - researcher_output / response_output: Text, Iteration
//   - validator_output: Text, Verdict, Iteration
//   - complete: Response, Sources, ToolCalls, ResearcherOutput,
//     ValidatorOutput, ValidationVerdict
//   - error: Error
type Event struct {
	Type      EventType `json:"type"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	Verdict   string    `json:"verdict,omitempty"`

	// Final payload, only on complete events.
	Response          string   `json:"response,omitempty"`
	Sources           []Source `json:"sources,omitempty"`
	ToolCalls         []string `json:"tool_calls,omitempty"`
	ResearcherOutput  string   `json:"researcher_output,omitempty"`
	ValidatorOutput   string   `json:"validator_output,omitempty"`
	ValidationVerdict string   `json:"validation_verdict,omitempty"`

	Error string `json:"error,omitempty"`
}

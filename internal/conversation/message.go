// ABOUTME: Message and AgentStep types: one turn half and one reasoning sub-event.
// ABOUTME: Assistant messages start as streaming placeholders and are finalized in place.

package conversation

import (
	"time"

	"github.com/lantern-health/chartclient/internal/stream"
)

// Role identifies which half of a turn a message is.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Feedback is the user's verdict on an assistant message.
type Feedback int

const (
	FeedbackNone      Feedback = 0
	FeedbackHelpful   Feedback = 1
	FeedbackUnhelpful Feedback = -1
)

// Message is one conversational turn half. An assistant message is created
// as a placeholder with empty content and Streaming set, then mutated in
// place (found by ID) exactly once: to its final content, or to a fixed
// error/stopped string. It never goes back to being a placeholder.
type Message struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	Sources   []stream.Source
	ToolCalls []string
	Streaming bool
	Feedback  Feedback
}

// StepKind discriminates AgentStep variants.
type StepKind string

const (
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepResearcher StepKind = "researcher"
	StepValidator  StepKind = "validator"
	StepResponse   StepKind = "response"
)

// AgentStep is one reasoning sub-event inside a single turn. Steps are
// append-only within a turn, recorded in arrival order, and cleared when a
// new turn starts.
type AgentStep struct {
	Kind      StepKind
	Tool      string // tool_call and tool_result only
	Text      string
	Iteration int
	Verdict   string // validator only: "pass" or "revise"
}

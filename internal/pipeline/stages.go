// ABOUTME: The fixed, ordered set of backend pipeline stages tracked client-side.
// ABOUTME: Stage status only ever moves forward within a turn.

package pipeline

// Stage names one phase of the backend retrieval/reasoning pipeline.
type Stage string

const (
	StageQuery        Stage = "query"         // query intake
	StagePIIMask      Stage = "pii_mask"      // PHI/PII masking
	StageVectorSearch Stage = "vector_search" // vector retrieval
	StageRerank       Stage = "rerank"        // re-ranking of retrieved documents
	StageLLMReact     Stage = "llm_react"     // reasoning loop
	StageResponse     Stage = "response"      // response synthesis
)

// Stages is the fixed display order.
var Stages = []Stage{
	StageQuery,
	StagePIIMask,
	StageVectorSearch,
	StageRerank,
	StageLLMReact,
	StageResponse,
}

// Status is the lifecycle of a stage within one turn.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// StageState pairs a stage with its current status for snapshots.
type StageState struct {
	Stage  Stage
	Status Status
}

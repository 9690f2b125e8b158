// ABOUTME: Tests for the pipeline stage deriver and phrase matcher.
// ABOUTME: Covers activation rules, idempotency, finalize resolution, and table overrides.

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lantern-health/chartclient/internal/stream"
)

func statusOf(d *Deriver, s Stage) Status {
	for _, st := range d.Snapshot() {
		if st.Stage == s {
			return st.Status
		}
	}
	return ""
}

func TestDeriver_AllPendingInitially(t *testing.T) {
	d := NewDeriver(nil, nil)
	for _, st := range d.Snapshot() {
		assert.Equal(t, StatusPending, st.Status, string(st.Stage))
	}
}

func TestDeriver_StatusPhrasesActivateStages(t *testing.T) {
	d := NewDeriver(nil, nil)

	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Starting agent pipeline..."})
	assert.Equal(t, StatusActive, statusOf(d, StageQuery))
	assert.Equal(t, StatusActive, statusOf(d, StagePIIMask))

	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Investigating the question"})
	assert.Equal(t, StatusActive, statusOf(d, StageLLMReact))

	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Synthesizing the final answer"})
	assert.Equal(t, StatusActive, statusOf(d, StageResponse))
}

func TestDeriver_SearchToolActivatesRetrievalThenRerank(t *testing.T) {
	d := NewDeriver(nil, nil)

	d.Observe(stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"})
	assert.Equal(t, StatusActive, statusOf(d, StageVectorSearch))
	assert.Equal(t, StatusPending, statusOf(d, StageRerank))

	d.Observe(stream.Event{Type: stream.EventToolResult, Tool: "search_clinical_notes", Text: "3 docs"})
	assert.Equal(t, StatusActive, statusOf(d, StageRerank))
}

func TestDeriver_NonSearchToolDoesNotActivateRetrieval(t *testing.T) {
	d := NewDeriver(nil, nil)
	d.Observe(stream.Event{Type: stream.EventTool, Tool: "calculate_dosage"})
	assert.Equal(t, StatusPending, statusOf(d, StageVectorSearch))
}

func TestDeriver_ResearcherActivatesReasoning(t *testing.T) {
	d := NewDeriver(nil, nil)
	d.Observe(stream.Event{Type: stream.EventResearcher, Text: "thinking", Iteration: 1})
	assert.Equal(t, StatusActive, statusOf(d, StageLLMReact))
}

func TestDeriver_ActivationIsIdempotent(t *testing.T) {
	d := NewDeriver(nil, nil)

	ev := stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"}
	d.Observe(ev)
	d.Observe(ev)

	assert.Equal(t, StatusActive, statusOf(d, StageVectorSearch))

	// Finalize then replay: completed stages never move backward.
	d.Finalize(true)
	d.Observe(ev)
	assert.Equal(t, StatusCompleted, statusOf(d, StageVectorSearch))
}

func TestDeriver_FinalizeResolvesEveryStage(t *testing.T) {
	d := NewDeriver(nil, nil)
	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Starting agent pipeline"})
	d.Observe(stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"})
	d.Finalize(false)

	completed := 0
	skipped := 0
	for _, st := range d.Snapshot() {
		switch st.Status {
		case StatusCompleted:
			completed++
		case StatusSkipped:
			skipped++
		default:
			t.Fatalf("stage %s unresolved: %s", st.Stage, st.Status)
		}
	}
	assert.Equal(t, len(Stages), completed+skipped)
	assert.Equal(t, 3, completed) // query, pii_mask, vector_search
}

func TestDeriver_SuccessForcesReasoningComplete(t *testing.T) {
	d := NewDeriver(nil, nil)
	// A short turn with no researcher output at all.
	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Starting agent pipeline"})
	d.Finalize(true)

	assert.Equal(t, StatusCompleted, statusOf(d, StageLLMReact))

	// On a failed turn the reasoning stage is not forced.
	d.Reset()
	d.Finalize(false)
	assert.Equal(t, StatusSkipped, statusOf(d, StageLLMReact))
}

func TestDeriver_ResetClearsActivation(t *testing.T) {
	d := NewDeriver(nil, nil)
	d.Observe(stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"})
	d.Finalize(true)

	d.Reset()
	for _, st := range d.Snapshot() {
		assert.Equal(t, StatusPending, st.Status)
	}

	// Activation works again after reset.
	d.Observe(stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"})
	assert.Equal(t, StatusActive, statusOf(d, StageVectorSearch))
}

func TestDeriver_FullTurnScenario(t *testing.T) {
	d := NewDeriver(nil, nil)

	d.Observe(stream.Event{Type: stream.EventStatus, Text: "Starting…"})
	d.Observe(stream.Event{Type: stream.EventTool, Tool: "search_clinical_notes"})
	d.Observe(stream.Event{Type: stream.EventToolResult, Tool: "search_clinical_notes", Text: "...3 docs..."})
	d.Observe(stream.Event{Type: stream.EventResponse, Text: "...", Iteration: 1})
	d.Finalize(true)

	for _, st := range d.Snapshot() {
		assert.Equal(t, StatusCompleted, st.Status, string(st.Stage))
	}
}

func TestMatcher_IsSearchTool(t *testing.T) {
	m := DefaultMatcher()
	assert.True(t, m.IsSearchTool("search_clinical_notes"))
	assert.True(t, m.IsSearchTool("lookup_guidelines"))
	assert.True(t, m.IsSearchTool("semantic_search"))
	assert.False(t, m.IsSearchTool("calculate_dosage"))
}

func TestLoadMatcher_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrases.toml")
	override := `
[[rule]]
contains = "warming up"
stages = ["query"]

[tools]
search_prefixes = ["find_"]
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0644))

	m, err := LoadMatcher(path)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageQuery}, m.StagesForStatus("Warming up the model"))
	assert.Empty(t, m.StagesForStatus("Starting agent pipeline"))
	assert.True(t, m.IsSearchTool("find_notes"))
}

func TestLoadMatcher_RejectsUnknownStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phrases.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[rule]]\ncontains = \"x\"\nstages = [\"bogus\"]\n"), 0644))

	_, err := LoadMatcher(path)
	assert.Error(t, err)
}

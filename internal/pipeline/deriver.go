// ABOUTME: Forward-only state machine inferring which pipeline stages ran during a turn.
// ABOUTME: Activation is at-most-once per stage per turn; finalize resolves every stage.

package pipeline

import (
	"log/slog"
	"sync"

	"github.com/lantern-health/chartclient/internal/stream"
)

// Deriver tracks the status of every pipeline stage for the current turn.
// It consumes the same event stream as the conversation controller but keeps
// its own small state. All methods are safe for concurrent use: events
// arrive on the streaming goroutine while snapshots are read elsewhere.
type Deriver struct {
	mu        sync.Mutex
	status    map[Stage]Status
	activated map[Stage]bool
	matcher   *Matcher
	logger    *slog.Logger
}

// NewDeriver creates a Deriver with all stages pending. A nil matcher uses
// the embedded phrase table.
func NewDeriver(matcher *Matcher, logger *slog.Logger) *Deriver {
	if matcher == nil {
		matcher = DefaultMatcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deriver{
		matcher: matcher,
		logger:  logger.With("component", "pipeline"),
	}
	d.resetLocked()
	return d
}

func (d *Deriver) resetLocked() {
	d.status = make(map[Stage]Status, len(Stages))
	d.activated = make(map[Stage]bool, len(Stages))
	for _, s := range Stages {
		d.status[s] = StatusPending
	}
}

// Reset returns every stage to pending and clears the activation set.
// Called at turn start.
func (d *Deriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Observe applies one stream event to the stage state.
func (d *Deriver) Observe(ev stream.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Type {
	case stream.EventStart:
		d.activateLocked(StageQuery)

	case stream.EventStatus:
		for _, s := range d.matcher.StagesForStatus(ev.Text) {
			d.activateLocked(s)
		}

	case stream.EventTool:
		if d.matcher.IsSearchTool(ev.Tool) {
			d.activateLocked(StageVectorSearch)
		}

	case stream.EventToolResult:
		if d.matcher.IsSearchTool(ev.Tool) {
			d.activateLocked(StageRerank)
		}

	case stream.EventResearcher:
		d.activateLocked(StageLLMReact)

	case stream.EventResponse:
		d.activateLocked(StageResponse)
	}
}

// activateLocked moves a stage to active at most once per turn. A stage that
// already completed never moves backward.
func (d *Deriver) activateLocked(s Stage) {
	if d.activated[s] {
		return
	}
	d.activated[s] = true
	if d.status[s] == StatusPending {
		d.status[s] = StatusActive
		d.logger.Debug("stage active", "stage", string(s))
	}
}

// Finalize resolves every stage at turn end: activated stages complete,
// untouched stages are marked skipped. On a successful turn the reasoning
// stage is forced complete since the agent's react loop always runs even
// when no researcher output was streamed.
func (d *Deriver) Finalize(successful bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if successful {
		d.activateLocked(StageLLMReact)
	}
	for _, s := range Stages {
		if d.activated[s] {
			d.status[s] = StatusCompleted
		} else if d.status[s] == StatusPending {
			d.status[s] = StatusSkipped
		}
	}
}

// Snapshot returns the stages in display order with their current status.
func (d *Deriver) Snapshot() []StageState {
	d.mu.Lock()
	defer d.mu.Unlock()

	states := make([]StageState, len(Stages))
	for i, s := range Stages {
		states[i] = StageState{Stage: s, Status: d.status[s]}
	}
	return states
}

// ABOUTME: Fake agent and session directory for manual end-to-end runs of chart-tui.
// ABOUTME: Usage: fake-agent [-addr :8090] — serves /health, /ask, and /api/sessions in one process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lantern-health/chartclient/internal/session"
	"github.com/lantern-health/chartclient/internal/stream"
)

func main() {
	addr := flag.String("addr", ":8090", "Listen address")
	delay := flag.Duration("delay", 150*time.Millisecond, "Delay between stream events")
	flag.Parse()

	f := &fake{
		delay:    *delay,
		sessions: map[string]*session.Session{},
		turns:    map[string][]*session.Turn{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", f.handleHealth)
	mux.HandleFunc("POST /ask", f.handleAsk)
	mux.HandleFunc("GET /api/sessions", f.handleList)
	mux.HandleFunc("GET /api/sessions/count", f.handleCount)
	mux.HandleFunc("POST /api/sessions", f.handleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", f.handleGet)
	mux.HandleFunc("PATCH /api/sessions/{id}", f.handleUpdate)
	mux.HandleFunc("DELETE /api/sessions/{id}", f.handleDelete)
	mux.HandleFunc("GET /api/sessions/{id}/turns", f.handleTurns)

	log.Printf("fake-agent listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

// fake holds the in-memory directory state shared by the agent and session
// endpoints, so turns answered on /ask show up in /api/sessions/{id}/turns.
type fake struct {
	delay time.Duration

	mu       sync.Mutex
	sessions map[string]*session.Session
	turns    map[string][]*session.Turn
}

type askRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func (f *fake) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *fake) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	log.Printf("ask [session %s]: %s", req.SessionID, req.Query)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	answer := fmt.Sprintf(
		"Based on the chart, here is what I found about **%s**:\n\n"+
			"- The most recent note addresses this directly.\n"+
			"- An earlier entry provides supporting context.\n\n"+
			"Let me know if you want more detail on either.", req.Query)
	sources := []stream.Source{
		{DocID: "note-2024-003", Preview: "Progress note covering the relevant encounter"},
		{DocID: "note-2023-117", Preview: "Earlier visit with related findings"},
	}

	script := []stream.Event{
		{Type: stream.EventStart},
		{Type: stream.EventStatus, Text: "Starting analysis of your question"},
		{Type: stream.EventStatus, Text: "Masking identifiers before retrieval"},
		{Type: stream.EventStatus, Text: "Searching the chart for relevant notes"},
		{Type: stream.EventTool, Tool: "semantic_search"},
		{Type: stream.EventToolResult, Tool: "semantic_search", Text: "2 passages retrieved"},
		{Type: stream.EventStatus, Text: "Re-ranking retrieved passages"},
		{Type: stream.EventStatus, Text: "Investigating the question"},
		{Type: stream.EventResearcher, Text: "Both notes speak to the question; drafting an answer.", Iteration: 1},
		{Type: stream.EventValidator, Text: "Draft is grounded in the cited notes.", Verdict: "pass", Iteration: 1},
		{Type: stream.EventStatus, Text: "Writing response"},
		{Type: stream.EventResponse, Text: answer, Iteration: 1},
		{
			Type:              stream.EventComplete,
			Response:          answer,
			Sources:           sources,
			ToolCalls:         []string{"semantic_search"},
			ResearcherOutput:  "Both notes speak to the question; drafting an answer.",
			ValidatorOutput:   "Draft is grounded in the cited notes.",
			ValidationVerdict: "pass",
		},
	}

	for _, ev := range script {
		select {
		case <-r.Context().Done():
			log.Printf("ask cancelled [session %s]", req.SessionID)
			return
		case <-time.After(f.delay):
		}
		if err := writeEvent(w, ev); err != nil {
			log.Printf("write error: %v", err)
			return
		}
	}

	f.recordTurn(req.SessionID, req.Query, answer, sources)
}

// writeEvent emits one newline-delimited data record and flushes it so the
// client sees events as they happen, not buffered.
func writeEvent(w http.ResponseWriter, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// recordTurn appends the answered turn to the directory so /history works.
func (f *fake) recordTurn(sessionID, query, answer string, sources []stream.Source) {
	if sessionID == "" {
		return
	}
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[sessionID] = append(f.turns[sessionID],
		&session.Turn{ID: uuid.New().String(), Role: "user", Content: query, CreatedAt: now},
		&session.Turn{
			ID:        uuid.New().String(),
			Role:      "assistant",
			Content:   answer,
			CreatedAt: now.Add(time.Millisecond),
			Sources:   sources,
			ToolCalls: []string{"semantic_search"},
		})
}

func (f *fake) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	f.mu.Lock()
	sessions := []*session.Session{}
	for _, s := range f.sessions {
		if userID == "" || s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, sessions)
}

func (f *fake) handleCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	f.mu.Lock()
	count := 0
	for _, s := range f.sessions {
		if userID == "" || s.UserID == userID {
			count++
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (f *fake) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	now := time.Now()
	sess := &session.Session{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		Name:         req.Name,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	f.mu.Lock()
	f.sessions[sess.ID] = sess
	f.mu.Unlock()
	log.Printf("session created: %s (%s)", sess.ID, sess.UserID)
	writeJSON(w, http.StatusCreated, sess)
}

func (f *fake) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	sess, ok := f.sessions[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (f *fake) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Name         string    `json:"name"`
		LastActiveAt time.Time `json:"last_active_at"`
		MessageCount int       `json:"message_count"`
		Preview      string    `json:"preview"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	f.mu.Lock()
	sess, ok := f.sessions[r.PathValue("id")]
	if ok {
		sess.Name = patch.Name
		sess.LastActiveAt = patch.LastActiveAt
		sess.MessageCount = patch.MessageCount
		sess.Preview = patch.Preview
	}
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (f *fake) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.sessions[id]
	delete(f.sessions, id)
	delete(f.turns, id)
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fake) handleTurns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	f.mu.Lock()
	turns := append([]*session.Turn{}, f.turns[id]...)
	f.mu.Unlock()
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	writeJSON(w, http.StatusOK, turns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode error: %v", err)
	}
}

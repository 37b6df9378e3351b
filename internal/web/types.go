package web

import (
	"time"

	"github.com/sidegrid/sidegrid/internal/history"
	"github.com/sidegrid/sidegrid/internal/session"
)

// --- API Response Wrappers ---

// APISidesResponse wraps the stored script id list.
type APISidesResponse struct {
	Sides []string `json:"sides"`
}

// APISessionsResponse wraps the session pool listing.
type APISessionsResponse struct {
	Sessions []APISession `json:"sessions"`
}

// APIExecutionsResponse wraps a page of execution history.
type APIExecutionsResponse struct {
	Executions []APIExecution `json:"executions"`
}

// --- API Resource Types ---

// APISession is the JSON representation of one pooled session and its
// lock state.
type APISession struct {
	SessionID     string `json:"session_id"`
	Browser       string `json:"browser"`
	State         string `json:"state"`
	Locked        bool   `json:"locked"`
	CreatedAt     string `json:"created_at"`
	LastCheckedAt string `json:"last_checked_at"`
}

// APIExecution is the JSON representation of an execution record.
type APIExecution struct {
	ID         int64              `json:"id"`
	ScriptID   string             `json:"script_id"`
	Suite      *string            `json:"suite"`
	Test       *string            `json:"test"`
	SessionID  string             `json:"session_id"`
	Mode       string             `json:"mode"`
	Status     string             `json:"status"`
	ErrorKind  *string            `json:"error_kind"`
	Error      *string            `json:"error"`
	StartedAt  string             `json:"started_at"`
	EndedAt    *string            `json:"ended_at"`
	DurationMs *int64             `json:"duration_ms"`
	Commands   []APICommandResult `json:"commands,omitempty"`
}

// APICommandResult is the JSON representation of one command outcome
// within an execution.
type APICommandResult struct {
	Seq        int     `json:"seq"`
	CommandID  string  `json:"command_id"`
	Command    string  `json:"command"`
	Target     string  `json:"target"`
	Value      string  `json:"value"`
	Status     string  `json:"status"`
	Error      *string `json:"error"`
	StartedAt  string  `json:"started_at"`
	DurationMs int64   `json:"duration_ms"`
}

// APIExecutionResult is returned after a dispatched execution passes.
type APIExecutionResult struct {
	ExecutionID int64  `json:"execution_id"`
	SessionID   string `json:"session_id"`
	PageSource  string `json:"page_source"`
}

// APIExecutionStats aggregates execution counts by status.
type APIExecutionStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
}

// --- API Request Types ---

// APIExecuteRequest is the JSON body for POST /api/v1/executions. With
// SessionID the run targets that session; without it the dispatcher picks
// any idle one.
type APIExecuteRequest struct {
	ScriptID  string            `json:"script_id"`
	Suite     string            `json:"suite,omitempty"`
	Test      string            `json:"test,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// --- Conversion Functions ---

func toAPISession(e session.Entry, locked bool) APISession {
	return APISession{
		SessionID:     e.ID,
		Browser:       e.Browser,
		State:         e.State.String(),
		Locked:        locked,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
		LastCheckedAt: e.LastCheckedAt.UTC().Format(time.RFC3339),
	}
}

func toAPIExecution(e history.Execution) APIExecution {
	return APIExecution{
		ID:         e.ID,
		ScriptID:   e.ScriptID,
		Suite:      e.Suite,
		Test:       e.Test,
		SessionID:  e.SessionID,
		Mode:       e.Mode,
		Status:     e.Status,
		ErrorKind:  e.ErrorKind,
		Error:      e.Error,
		StartedAt:  e.StartedAt,
		EndedAt:    e.EndedAt,
		DurationMs: e.DurationMs,
	}
}

func toAPIExecutions(executions []history.Execution) []APIExecution {
	out := make([]APIExecution, len(executions))
	for i, e := range executions {
		out[i] = toAPIExecution(e)
	}
	return out
}

func toAPICommandResult(c history.CommandResult) APICommandResult {
	return APICommandResult{
		Seq:        c.Seq,
		CommandID:  c.CommandID,
		Command:    c.Command,
		Target:     c.Target,
		Value:      c.Value,
		Status:     c.Status,
		Error:      c.Error,
		StartedAt:  c.StartedAt,
		DurationMs: c.DurationMs,
	}
}

func toAPICommandResults(results []history.CommandResult) []APICommandResult {
	out := make([]APICommandResult, len(results))
	for i, c := range results {
		out[i] = toAPICommandResult(c)
	}
	return out
}

package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/sidegrid/sidegrid/internal/dispatch"
	"github.com/sidegrid/sidegrid/internal/fault"
)

// maxScriptBytes bounds PUT /api/v1/sides/{id} upload size.
const maxScriptBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error kind to the HTTP status that reports it.
func statusFor(k fault.Kind) int {
	switch k {
	case fault.InvalidID, fault.MalformedScript, fault.InvalidReference,
		fault.TemplateRender, fault.TemplateResource:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.AlreadyHeld, fault.NotOwner, fault.Timeout:
		return http.StatusConflict
	case fault.NoCapacity:
		return http.StatusServiceUnavailable
	case fault.AssertionFailed, fault.CommandFailed, fault.UnboundVariable,
		fault.BadLocator:
		return http.StatusUnprocessableEntity
	case fault.GridUnreachable, fault.NoSuchSession:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorResponse reports a classified failure. ExecutionID and
// PageSource are present when the browser ran before the failure, so the
// client can inspect what the page looked like when the run stopped.
type APIErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	PageSource  string `json:"page_source,omitempty"`
}

// writeFault reports err with its kind-mapped status. A non-nil res
// carries the partial result captured before a command failure.
func writeFault(w http.ResponseWriter, err error, res *dispatch.Result) {
	kind := fault.KindOf(err)
	body := APIErrorResponse{Error: err.Error(), Kind: kind.String()}
	if res != nil {
		body.ExecutionID = res.ExecutionID
		body.PageSource = res.PageSource
	}
	writeJSON(w, statusFor(kind), body)
}

// requireJSON checks the Content-Type header and returns false (with a 415 response) if it is not application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// parseLimitOffset extracts limit and offset query params with defaults and validation.
func parseLimitOffset(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// --- Handlers ---

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListSides returns all stored script ids in lexical order.
func (s *Server) handleListSides(w http.ResponseWriter, r *http.Request) {
	ids, err := s.scripts.List()
	if err != nil {
		log.Printf("handleListSides: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list scripts")
		return
	}
	writeJSON(w, http.StatusOK, APISidesResponse{Sides: ids})
}

// handlePutSide stores the raw request body under the id, replacing any
// previous version.
func (s *Server) handlePutSide(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScriptBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "script body exceeds size limit")
		return
	}
	if err := s.scripts.Save(id, data); err != nil {
		writeFault(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSide returns a script's raw bytes.
func (s *Server) handleGetSide(w http.ResponseWriter, r *http.Request) {
	data, err := s.scripts.Get(r.PathValue("id"))
	if err != nil {
		writeFault(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// handleDeleteSide removes a stored script.
func (s *Server) handleDeleteSide(w http.ResponseWriter, r *http.Request) {
	if err := s.scripts.Delete(r.PathValue("id")); err != nil {
		writeFault(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions returns the pooled sessions in slot order with
// their lock state.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := s.pool.Entries()
	sessions := make([]APISession, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, toAPISession(e, s.locks.IsHeld(e.ID)))
	}
	writeJSON(w, http.StatusOK, APISessionsResponse{Sessions: sessions})
}

// handleCreateExecution dispatches a script run and reports the outcome.
// With session_id the run targets that session, otherwise any idle one.
func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	var req APIExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.ScriptID == "" {
		writeError(w, http.StatusBadRequest, "script_id is required")
		return
	}
	if req.Suite != "" && req.Test != "" {
		writeError(w, http.StatusBadRequest, "suite and test are mutually exclusive")
		return
	}

	dreq := dispatch.Request{
		ScriptID: req.ScriptID,
		Suite:    req.Suite,
		Test:     req.Test,
		Params:   req.Params,
	}

	var (
		res *dispatch.Result
		err error
	)
	if req.SessionID != "" {
		res, err = s.dsp.ExecuteOn(r.Context(), req.SessionID, dreq)
	} else {
		res, err = s.dsp.ExecuteAny(r.Context(), dreq)
	}
	if err != nil {
		log.Printf("handleCreateExecution: script %s: %v", req.ScriptID, err)
		writeFault(w, err, res)
		return
	}

	writeJSON(w, http.StatusCreated, APIExecutionResult{
		ExecutionID: res.ExecutionID,
		SessionID:   res.SessionID,
		PageSource:  res.PageSource,
	})
}

// handleListExecutions returns a page of execution history, newest first,
// with optional script_id and status filters.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var scriptID, status *string
	if v := r.URL.Query().Get("script_id"); v != "" {
		scriptID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	executions, err := s.db.ListExecutions(limit, offset, scriptID, status)
	if err != nil {
		log.Printf("handleListExecutions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, APIExecutionsResponse{Executions: toAPIExecutions(executions)})
}

// handleExecutionStats returns execution counts grouped by status.
func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.ExecutionStats()
	if err != nil {
		log.Printf("handleExecutionStats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution stats")
		return
	}
	writeJSON(w, http.StatusOK, APIExecutionStats{
		Total:   st.Total,
		Running: st.Running,
		Passed:  st.Passed,
		Failed:  st.Failed,
	})
}

// handleGetExecution returns one execution with its command results.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	e, err := s.db.GetExecution(id)
	if err != nil {
		log.Printf("handleGetExecution: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}

	commands, err := s.db.ListCommandResults(id)
	if err != nil {
		log.Printf("handleGetExecution: commands: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load command results")
		return
	}

	out := toAPIExecution(*e)
	out.Commands = toAPICommandResults(commands)
	writeJSON(w, http.StatusOK, out)
}

// handleExecutionStream opens an SSE connection for an execution's
// progress events: buffered catchup first, then live lines until the
// execution finishes.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid execution id", http.StatusBadRequest)
		return
	}

	e, err := s.db.GetExecution(id)
	if err != nil {
		log.Printf("handleExecutionStream: %v", err)
		http.Error(w, "failed to load execution", http.StatusInternalServerError)
		return
	}
	if e == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Tell the browser to wait 30 s before reconnecting, so the hub's
	// buffer is not replayed as duplicate output on a quick reconnect.
	_, _ = fmt.Fprintf(w, "retry: 30000\n\n")
	flusher.Flush()

	ch, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	if e.Status != "running" {
		// Already finished: replay whatever the hub still buffers and
		// end the stream. The hub may have evicted the buffer by now,
		// in which case the done event is all the client gets.
		for {
			select {
			case line, ok := <-ch:
				if !ok {
					s.writeSSEDone(w, flusher)
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
				flusher.Flush()
			default:
				s.writeSSEDone(w, flusher)
				return
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-ch:
			if !ok {
				s.writeSSEDone(w, flusher)
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func (s *Server) writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprintf(w, "event: done\ndata: execution complete\n\n")
	flusher.Flush()
}

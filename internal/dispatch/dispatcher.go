// Package dispatch coordinates one script execution end to end: select a
// session, take its lock, prepare the script, drive the browser, and
// record progress. It is the only layer that touches every other
// component, and the only one allowed to hold a session lock.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sidegrid/sidegrid/internal/executor"
	"github.com/sidegrid/sidegrid/internal/fault"
	"github.com/sidegrid/sidegrid/internal/history"
	"github.com/sidegrid/sidegrid/internal/hub"
	"github.com/sidegrid/sidegrid/internal/lock"
	"github.com/sidegrid/sidegrid/internal/render"
	"github.com/sidegrid/sidegrid/internal/session"
	"github.com/sidegrid/sidegrid/internal/side"
	"github.com/sidegrid/sidegrid/internal/store"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

// Request describes one script execution. At most one of Suite and Test
// is set; with neither, the first suite in the script runs. Params feed
// the template renderer.
type Request struct {
	ScriptID string
	Suite    string
	Test     string
	Params   map[string]string
}

// Result is the outcome of an execution. A non-nil Result accompanies
// command failures too: PageSource then holds the partial page at the
// moment the run stopped, and ExecutionID points at the failed history
// row.
type Result struct {
	ExecutionID int64
	SessionID   string
	PageSource  string
}

// Options are the dispatcher's timing knobs. Zero values fall back to
// the service defaults.
type Options struct {
	RunTTL       time.Duration // lock TTL covering one scoped execution
	StreamTTL    time.Duration // lock TTL for pinned connections
	LockWait     time.Duration // how long ExecuteOn waits for a busy session
	ImplicitWait time.Duration // per-command element wait
}

// Dispatcher owns the execution policy: which session runs a request,
// under which lock, and what gets recorded about it.
type Dispatcher struct {
	scripts  *store.Store
	renderer *render.Renderer
	locks    *lock.Repository
	pool     *session.Pool
	db       *history.DB
	events   *hub.Hub
	opts     Options
}

// New wires a Dispatcher over its collaborators.
func New(scripts *store.Store, renderer *render.Renderer, locks *lock.Repository, pool *session.Pool, db *history.DB, events *hub.Hub, opts Options) *Dispatcher {
	if opts.RunTTL <= 0 {
		opts.RunTTL = 5 * time.Minute
	}
	if opts.StreamTTL <= 0 {
		opts.StreamTTL = time.Hour
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 30 * time.Second
	}
	if opts.ImplicitWait <= 0 {
		opts.ImplicitWait = 10 * time.Second
	}
	return &Dispatcher{
		scripts:  scripts,
		renderer: renderer,
		locks:    locks,
		pool:     pool,
		db:       db,
		events:   events,
		opts:     opts,
	}
}

// ExecuteAny runs the request on the first idle session it can lock.
// An empty pool reports NoCapacity before any lock is touched; losing
// every acquire race during the scan reports NoCapacity as well.
func (d *Dispatcher) ExecuteAny(ctx context.Context, req Request) (*Result, error) {
	sessions := d.pool.List()
	if len(sessions) == 0 {
		return nil, fault.New(fault.NoCapacity, "session pool is empty")
	}
	idle := d.locks.FilterIdle(sessions)
	if len(idle) == 0 {
		return nil, fault.Errorf(fault.NoCapacity, "all %d sessions are busy", len(sessions))
	}
	for _, id := range idle {
		lease, err := d.locks.AcquireScoped(ctx, id, d.opts.RunTTL, 0)
		if err != nil {
			// FilterIdle is advisory; someone else may have taken the
			// session between the scan and this attempt.
			if fault.Is(err, fault.AlreadyHeld) || fault.Is(err, fault.Timeout) {
				continue
			}
			return nil, err
		}
		return d.run(ctx, lease, req, "auto")
	}
	return nil, fault.New(fault.NoCapacity, "every idle session was taken during the scan")
}

// ExecuteOn runs the request on one specific session, waiting up to the
// configured lock wait when it is busy. Lock failures propagate as is.
func (d *Dispatcher) ExecuteOn(ctx context.Context, sessionID string, req Request) (*Result, error) {
	lease, err := d.locks.AcquireScoped(ctx, sessionID, d.opts.RunTTL, d.opts.LockWait)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, lease, req, "targeted")
}

// run executes req on the leased session and releases the lease on every
// exit path. A release failure surfaces only when the run itself passed.
func (d *Dispatcher) run(ctx context.Context, lease *lock.Lease, req Request, mode string) (res *Result, err error) {
	defer func() {
		if rerr := lease.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	tests, project, err := d.prepare(req)
	if err != nil {
		return nil, err
	}

	drv, err := d.pool.Acquire(ctx, lease.Key)
	if err != nil {
		return nil, err
	}
	// A replacement session carries a new id. Lock it for the run too,
	// so the idle scan cannot hand the fresh browser to a concurrent
	// execution while this one drives it.
	if drv.ID() != lease.Key {
		repl, rerr := d.locks.AcquireScoped(ctx, drv.ID(), d.opts.RunTTL, 0)
		if rerr != nil {
			return nil, fault.Wrap(fault.NoSuchSession,
				"session "+lease.Key+" was replaced by "+drv.ID()+", which a concurrent run already took", rerr)
		}
		defer func() {
			if rerr := repl.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	return d.execute(ctx, drv, req, project, tests, mode)
}

// prepare loads, renders, and parses the script, then selects the tests
// to run. Everything here fails before a browser is touched.
func (d *Dispatcher) prepare(req Request) ([]*side.Test, *side.Project, error) {
	raw, err := d.scripts.Get(req.ScriptID)
	if err != nil {
		return nil, nil, err
	}
	rendered, err := d.renderer.Render(raw, req.Params)
	if err != nil {
		return nil, nil, err
	}
	project, err := side.Load(rendered)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case req.Test != "":
		t, ok := project.TestByName(req.Test)
		if !ok {
			return nil, nil, fault.Errorf(fault.NotFound, "script %q has no test named %q", req.ScriptID, req.Test)
		}
		return []*side.Test{t}, project, nil
	case req.Suite != "":
		s, ok := project.SuiteByName(req.Suite)
		if !ok {
			return nil, nil, fault.Errorf(fault.NotFound, "script %q has no suite named %q", req.ScriptID, req.Suite)
		}
		return project.SuiteTests(s), project, nil
	default:
		return project.SuiteTests(project.Suites[0]), project, nil
	}
}

// execute drives the selected tests on drv command by command, recording
// each outcome in history and on the event stream. The caller must hold
// the session's lock.
func (d *Dispatcher) execute(ctx context.Context, drv webdriver.Driver, req Request, project *side.Project, tests []*side.Test, mode string) (*Result, error) {
	if err := drv.SetImplicitWait(ctx, d.opts.ImplicitWait); err != nil {
		return nil, err
	}

	var suite, test *string
	if req.Suite != "" {
		suite = &req.Suite
	}
	if req.Test != "" {
		test = &req.Test
	}
	execID, err := d.db.InsertExecution(&history.Execution{
		ScriptID:  req.ScriptID,
		Suite:     suite,
		Test:      test,
		SessionID: drv.ID(),
		Mode:      mode,
		Status:    "running",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}
	log.Printf("dispatch: execution %d started: script %s on %s (%s)", execID, req.ScriptID, drv.ID(), mode)
	d.events.PublishEvent(execID, hub.Event{
		Type:    "started",
		Message: fmt.Sprintf("script %s on session %s", req.ScriptID, drv.ID()),
	})

	res := &Result{ExecutionID: execID, SessionID: drv.ID()}
	ex := executor.New(drv, project.URL, d.opts.ImplicitWait)

	seq := 0
	for _, t := range tests {
		for i := range t.Commands {
			cmd := &t.Commands[i]
			seq++
			started := time.Now()
			runErr := ex.Run(ctx, cmd)
			d.recordCommand(execID, seq, cmd, started, runErr)
			if runErr != nil {
				// Partial page capture is best-effort.
				if src, perr := drv.PageSource(ctx); perr == nil {
					res.PageSource = src
				}
				d.finish(execID, "failed", runErr)
				return res, runErr
			}
		}
	}

	src, err := drv.PageSource(ctx)
	if err != nil {
		d.finish(execID, "failed", err)
		return res, err
	}
	res.PageSource = src
	d.finish(execID, "passed", nil)
	return res, nil
}

// recordCommand persists one command outcome and mirrors it on the event
// stream. History write failures are logged, not fatal: the run outcome
// must not depend on telemetry.
func (d *Dispatcher) recordCommand(execID int64, seq int, cmd *side.Command, started time.Time, runErr error) {
	status := "passed"
	var errText *string
	if runErr != nil {
		status = "failed"
		msg := runErr.Error()
		errText = &msg
	}
	if _, err := d.db.InsertCommandResult(&history.CommandResult{
		ExecutionID: execID,
		Seq:         seq,
		CommandID:   cmd.ID,
		Command:     cmd.Command,
		Target:      cmd.Target,
		Value:       cmd.Value,
		Status:      status,
		Error:       errText,
		StartedAt:   started.UTC().Format(time.RFC3339),
		DurationMs:  time.Since(started).Milliseconds(),
	}); err != nil {
		log.Printf("dispatch: record command %s: %v", cmd.ID, err)
	}

	ev := hub.Event{Type: "command", CommandID: cmd.ID, Command: cmd.Command, Target: cmd.Target}
	if runErr != nil {
		ev.Message = runErr.Error()
	}
	d.events.PublishEvent(execID, ev)
}

// finish closes out the history row and the event stream.
func (d *Dispatcher) finish(execID int64, status string, runErr error) {
	var kind, msg *string
	if runErr != nil {
		k := fault.KindOf(runErr).String()
		m := runErr.Error()
		kind, msg = &k, &m
	}
	if err := d.db.FinishExecution(execID, status, kind, msg); err != nil {
		log.Printf("dispatch: finish execution %d: %v", execID, err)
	}
	log.Printf("dispatch: execution %d %s", execID, status)

	ev := hub.Event{Type: "finished"}
	if runErr != nil {
		ev.Type = "failed"
		ev.Message = runErr.Error()
	}
	d.events.PublishEvent(execID, ev)
	d.events.Close(execID)
}

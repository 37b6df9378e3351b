// Package session maintains a warm pool of live browser sessions fronting
// a Selenium Grid. The pool opens one session per grid slot at startup,
// probes liveness on every loan, and transparently replaces sessions whose
// browser has died. Exclusivity between callers is not the pool's job;
// callers hold the session lock while using a handle.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sidegrid/sidegrid/internal/fault"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

// State is the pool's view of one session's health.
type State int

const (
	Healthy State = iota
	Suspect
	Dead
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Entry is a snapshot of one pooled session.
type Entry struct {
	ID            string
	Browser       string
	State         State
	CreatedAt     time.Time
	LastCheckedAt time.Time

	handle webdriver.Driver
}

// Grid is the hub surface the pool consumes.
type Grid interface {
	Status(ctx context.Context) (*webdriver.GridStatus, error)
	NewSession(ctx context.Context, browserName string) (webdriver.Driver, error)
}

// Pool is a process-local registry of grid sessions. Replacement swaps the
// new session into the dead one's slot, so list order and cardinality are
// stable across browser crashes.
type Pool struct {
	grid        Grid
	browser     string
	initTimeout time.Duration

	mu      sync.Mutex
	entries []*Entry

	warmOnce sync.Once
	warmDone chan struct{}
}

// New returns an empty pool. Call Warm to populate it.
func New(grid Grid, browser string, initTimeout time.Duration) *Pool {
	return &Pool{
		grid:        grid,
		browser:     browser,
		initTimeout: initTimeout,
		warmDone:    make(chan struct{}),
	}
}

// Warm starts the warm-up in the background and returns immediately.
// Requests arriving before it finishes see whatever subset of sessions is
// already open. Warm is idempotent.
func (p *Pool) Warm(ctx context.Context) {
	p.warmOnce.Do(func() {
		go p.warm(ctx)
	})
}

// Done returns a channel that is closed once warm-up has finished,
// successfully or not.
func (p *Pool) Done() <-chan struct{} { return p.warmDone }

func (p *Pool) warm(ctx context.Context) {
	defer close(p.warmDone)

	ctx, cancel := context.WithTimeout(ctx, p.initTimeout)
	defer cancel()

	capacity, err := p.waitForGrid(ctx)
	if err != nil {
		log.Printf("pool: warm-up abandoned, grid never became ready: %v", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < capacity; i++ {
		g.Go(func() error {
			drv, err := p.grid.NewSession(gctx, p.browser)
			if err != nil {
				log.Printf("pool: warm-up session open failed: %v", err)
				return nil
			}
			p.append(drv)
			return nil
		})
	}
	_ = g.Wait()
	log.Printf("pool: warm-up finished with %d/%d sessions", len(p.List()), capacity)
}

// waitForGrid polls hub status until it reports ready with at least one
// slot, or ctx expires.
func (p *Pool) waitForGrid(ctx context.Context) (int, error) {
	for {
		st, err := p.grid.Status(ctx)
		if err == nil && st.Ready && st.Capacity > 0 {
			return st.Capacity, nil
		}
		if err != nil {
			log.Printf("pool: grid status: %v", err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (p *Pool) append(drv webdriver.Driver) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, &Entry{
		ID:            drv.ID(),
		Browser:       p.browser,
		State:         Healthy,
		CreatedAt:     now,
		LastCheckedAt: now,
		handle:        drv,
	})
}

// indexOf is called with p.mu held.
func (p *Pool) indexOf(id string) int {
	for i, e := range p.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (p *Pool) setState(id string, st State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexOf(id); i >= 0 {
		p.entries[i].State = st
		p.entries[i].LastCheckedAt = time.Now()
	}
}

// Acquire lends the handle for id after a liveness probe. A session whose
// probe fails twice is replaced in place; the replacement carries a new
// grid-assigned id. Callers must hold the session's lock for the duration
// of use. Acquire reports NoSuchSession when the session is gone and a
// replacement could not be opened.
func (p *Pool) Acquire(ctx context.Context, id string) (webdriver.Driver, error) {
	p.mu.Lock()
	i := p.indexOf(id)
	if i < 0 {
		p.mu.Unlock()
		return p.replace(ctx, id)
	}
	e := p.entries[i]
	if e.State == Dead {
		p.mu.Unlock()
		return p.replace(ctx, id)
	}
	handle := e.handle
	p.mu.Unlock()

	if err := p.probe(ctx, id, handle); err != nil {
		log.Printf("pool: session %s failed liveness probe, replacing: %v", id, err)
		p.setState(id, Dead)
		return p.replace(ctx, id)
	}
	p.setState(id, Healthy)
	return handle, nil
}

// probe checks the session by fetching its current URL. Transport blips
// get one retry before the session is declared unhealthy.
func (p *Pool) probe(ctx context.Context, id string, handle webdriver.Driver) error {
	_, err := handle.CurrentURL(ctx)
	if err == nil {
		return nil
	}
	p.setState(id, Suspect)
	if _, retryErr := handle.CurrentURL(ctx); retryErr == nil {
		return nil
	}
	return err
}

// replace opens a fresh grid session and installs it in place of oldID,
// preserving slot order. The dead handle is closed best-effort.
func (p *Pool) replace(ctx context.Context, oldID string) (webdriver.Driver, error) {
	drv, err := p.grid.NewSession(ctx, p.browser)
	if err != nil {
		return nil, fault.Wrap(fault.NoSuchSession, "session "+oldID+" is gone and no replacement could be opened", err)
	}

	now := time.Now()
	fresh := &Entry{
		ID:            drv.ID(),
		Browser:       p.browser,
		State:         Healthy,
		CreatedAt:     now,
		LastCheckedAt: now,
		handle:        drv,
	}

	var dead *Entry
	p.mu.Lock()
	if i := p.indexOf(oldID); i >= 0 {
		dead = p.entries[i]
		p.entries[i] = fresh
	} else {
		p.entries = append(p.entries, fresh)
	}
	p.mu.Unlock()

	if dead != nil {
		if err := dead.handle.Close(ctx); err != nil {
			log.Printf("pool: close dead session %s: %v", oldID, err)
		}
	}
	log.Printf("pool: replaced session %s with %s", oldID, fresh.ID)
	return drv, nil
}

// List returns live session ids in slot order. Dead entries are excluded.
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		if e.State == Dead {
			continue
		}
		ids = append(ids, e.ID)
	}
	return ids
}

// Entries returns a snapshot of all pool slots for status reporting.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		snap := *e
		snap.handle = nil
		out = append(out, snap)
	}
	return out
}

// Shutdown closes every handle and empties the pool. Per-handle close
// failures are logged and ignored.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, e := range entries {
		if err := e.handle.Close(ctx); err != nil {
			log.Printf("pool: close session %s: %v", e.ID, err)
		}
	}
}

package dispatch

import (
	"context"
	"log"
	"sync"

	"github.com/sidegrid/sidegrid/internal/fault"
	"github.com/sidegrid/sidegrid/internal/webdriver"
)

// Stream is a pinned connection: one session, locked for the life of the
// stream, with its handle shared across any number of messages. Failures
// of individual messages leave the pin intact; only Close (or the lock
// TTL, if the owner disappears) frees the session.
type Stream struct {
	d     *Dispatcher
	key   string
	token string
	drv   webdriver.Driver

	closeOnce sync.Once
	closeErr  error
}

// OpenStream pins an idle session with an owner-held lock and borrows its
// handle for the stream's lifetime. The lock TTL reclaims the session if
// the owner dies without closing. With nothing to pin it reports
// NoCapacity.
func (d *Dispatcher) OpenStream(ctx context.Context) (*Stream, error) {
	sessions := d.pool.List()
	if len(sessions) == 0 {
		return nil, fault.New(fault.NoCapacity, "session pool is empty")
	}
	for _, id := range d.locks.FilterIdle(sessions) {
		token, _, err := d.locks.Acquire(id, d.opts.StreamTTL)
		if err != nil {
			if fault.Is(err, fault.AlreadyHeld) {
				continue
			}
			return nil, err
		}

		drv, err := d.pool.Acquire(ctx, id)
		if err != nil {
			_ = d.locks.Release(id, token)
			return nil, err
		}
		if drv.ID() != id {
			// The open probe replaced the session under a new id; move
			// the pin over.
			_ = d.locks.Release(id, token)
			id = drv.ID()
			if token, _, err = d.locks.Acquire(id, d.opts.StreamTTL); err != nil {
				return nil, err
			}
		}

		log.Printf("dispatch: stream pinned session %s", id)
		return &Stream{d: d, key: id, token: token, drv: drv}, nil
	}
	return nil, fault.New(fault.NoCapacity, "no idle session to pin")
}

// SessionID returns the pinned session's id.
func (s *Stream) SessionID() string { return s.key }

// ExecuteSide runs a stored script on the pinned session. The lock is
// already held, so the scan-and-acquire path is skipped.
func (s *Stream) ExecuteSide(ctx context.Context, req Request) (*Result, error) {
	tests, project, err := s.d.prepare(req)
	if err != nil {
		return nil, err
	}
	return s.d.execute(ctx, s.drv, req, project, tests, "stream")
}

// ExecuteScript evaluates JavaScript on the pinned session and returns
// the script's value.
func (s *Stream) ExecuteScript(ctx context.Context, script string) (any, error) {
	return s.drv.ExecuteScript(ctx, script, nil)
}

// PageSource returns the pinned session's current page source.
func (s *Stream) PageSource(ctx context.Context) (string, error) {
	return s.drv.PageSource(ctx)
}

// Close releases the pin. Repeated calls return the first result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.d.locks.Release(s.key, s.token)
		log.Printf("dispatch: stream released session %s", s.key)
	})
	return s.closeErr
}

// Package lock provides durable, TTL-bounded mutual exclusion keyed by
// arbitrary strings (in practice, browser session ids). Locks survive
// process restarts: each one is a pair of sibling files under a single
// directory, and the filesystem's exclusive-create is the cross-process
// ordering authority.
package lock

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sidegrid/sidegrid/internal/fault"
)

// Info describes a held lock. Timestamps are epoch seconds; fractional
// values are preserved so sub-second TTLs round-trip.
type Info struct {
	Key        string  `json:"-"`
	UUID       string  `json:"uuid"`
	AcquiredAt float64 `json:"acquired_at"`
	TTLSeconds float64 `json:"ttl_seconds"`
	ExpiresAt  float64 `json:"expires_at"`
}

// Expired reports whether the lock is past its TTL at the given instant.
// A record with expires_at equal to now is already expired.
func (i Info) Expired(now time.Time) bool {
	return i.ExpiresAt <= epoch(now)
}

// Repository stores locks as two files per key: a zero-byte marker at
// <dir>/<key> created with O_EXCL, and <dir>/<key>.lock.json holding the
// Info record. A key is held iff a non-expired info file exists; expired
// records are treated as absent and cleaned on the next write path.
type Repository struct {
	dir string
}

// New creates the lock directory if needed and returns a Repository.
func New(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Repository{dir: dir}, nil
}

func (r *Repository) markerPath(key string) string {
	return filepath.Join(r.dir, key)
}

func (r *Repository) infoPath(key string) string {
	return filepath.Join(r.dir, key+".lock.json")
}

// readInfo returns the parsed info record for key, or nil if the file is
// absent or unparseable (an unparseable record can only be a torn write
// from a crashed holder and is reclaimed by the acquire path).
func (r *Repository) readInfo(key string) (*Info, error) {
	data, err := os.ReadFile(r.infoPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock info %q: %w", key, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, nil
	}
	info.Key = key
	return &info, nil
}

// removeLock deletes the info file then the marker. Missing files are
// ignored so the operation is idempotent.
func (r *Repository) removeLock(key string) error {
	if err := os.Remove(r.infoPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock info %q: %w", key, err)
	}
	if err := os.Remove(r.markerPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock marker %q: %w", key, err)
	}
	return nil
}

// Acquire takes the lock for key with the given TTL. It fails with
// AlreadyHeld if a live record exists. The returned token is the only
// value that can release the lock before it expires.
func (r *Repository) Acquire(key string, ttl time.Duration) (string, Info, error) {
	return r.acquire(key, ttl, true)
}

func (r *Repository) acquire(key string, ttl time.Duration, retry bool) (string, Info, error) {
	now := time.Now()

	info, err := r.readInfo(key)
	if err != nil {
		return "", Info{}, err
	}
	if info != nil {
		if !info.Expired(now) {
			return "", Info{}, fault.Errorf(fault.AlreadyHeld, "lock %q held for another %.1fs", key, info.ExpiresAt-epoch(now))
		}
		if err := r.removeLock(key); err != nil {
			return "", Info{}, err
		}
	}

	marker, err := os.OpenFile(r.markerPath(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return "", Info{}, fmt.Errorf("create lock marker %q: %w", key, err)
		}
		// Lost the race, or the previous holder crashed between creating
		// the marker and writing the info file.
		info, rerr := r.readInfo(key)
		if rerr != nil {
			return "", Info{}, rerr
		}
		if info != nil && !info.Expired(time.Now()) {
			return "", Info{}, fault.Errorf(fault.AlreadyHeld, "lock %q held by another owner", key)
		}
		if !retry {
			return "", Info{}, fault.Errorf(fault.AlreadyHeld, "lock %q marker present without live info", key)
		}
		if err := r.removeLock(key); err != nil {
			return "", Info{}, err
		}
		return r.acquire(key, ttl, false)
	}
	_ = marker.Close()

	token := newToken()
	acquired := epoch(now)
	rec := Info{
		Key:        key,
		UUID:       token,
		AcquiredAt: acquired,
		TTLSeconds: ttl.Seconds(),
		ExpiresAt:  acquired + ttl.Seconds(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		_ = os.Remove(r.markerPath(key))
		return "", Info{}, fmt.Errorf("encode lock info %q: %w", key, err)
	}
	if err := os.WriteFile(r.infoPath(key), data, 0o644); err != nil {
		_ = os.Remove(r.markerPath(key))
		return "", Info{}, fmt.Errorf("write lock info %q: %w", key, err)
	}
	return token, rec, nil
}

// Release frees the lock held by token. It no-ops when no record exists
// (or only an expired one does) and fails with NotOwner when the live
// record belongs to a different token.
func (r *Repository) Release(key, token string) error {
	info, err := r.readInfo(key)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.Expired(time.Now()) {
		return r.removeLock(key)
	}
	if info.UUID != token {
		return fault.Errorf(fault.NotOwner, "lock %q is owned by another token", key)
	}
	return r.removeLock(key)
}

// Info returns the live record for key, or nil when the key is free or
// the record has expired.
func (r *Repository) Info(key string) (*Info, error) {
	info, err := r.readInfo(key)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Expired(time.Now()) {
		return nil, nil
	}
	return info, nil
}

// IsHeld reports whether a non-expired record exists for key. Unreadable
// records count as held so callers never treat an unknown state as idle.
func (r *Repository) IsHeld(key string) bool {
	info, err := r.readInfo(key)
	if err != nil {
		return true
	}
	return info != nil && !info.Expired(time.Now())
}

// FilterIdle returns the subset of keys not held as of a single pass.
// The result is advisory: callers must still Acquire before acting.
func (r *Repository) FilterIdle(keys []string) []string {
	idle := make([]string, 0, len(keys))
	for _, key := range keys {
		if !r.IsHeld(key) {
			idle = append(idle, key)
		}
	}
	return idle
}

// newToken returns 32 hex characters backed by 128 random bits.
func newToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

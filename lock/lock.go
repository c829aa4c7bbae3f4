// Package lock provides a cross-process advisory lock keyed by resource name.
//
// A lock is a marker file in a shared directory. The marker records the
// owner (pid, host, random token) so that a crashed owner can be detected
// and its marker reclaimed. Only cooperating processes using the same
// directory are excluded.
//
// Usage:
//
//	l, err := lock.New(lock.Config{Dir: "/tmp/tollgate-locks"})
//	err = l.WithLock(ctx, "mr_review_42", lock.WaitUpTo(30*time.Second),
//		func(ctx context.Context, h *lock.Handle) error {
//			return review(ctx)
//		})
package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tollgate/log"
	"github.com/pithecene-io/tollgate/metrics"
)

// reclaimGuardTTL bounds how long an abandoned reclaim guard blocks reclaim.
const reclaimGuardTTL = 30 * time.Second

// DefaultDir returns the default marker directory.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "tollgate-locks")
}

// Config configures a Locker.
type Config struct {
	// Dir holds marker files. Created if missing. Default DefaultDir().
	Dir string
	// Liveness decides whether a marker's owner still exists.
	// Default ProcessLiveness for the local host.
	Liveness Liveness
	// MaxAge force-reclaims markers older than this, even when the owner
	// looks alive. A live owner reclaimed this way loses mutual exclusion
	// for the rest of its run. 0 disables.
	MaxAge time.Duration
	// Backoff is the retry schedule for waiting policies.
	Backoff Backoff
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Locker acquires and releases locks in one directory.
// Safe for concurrent use.
type Locker struct {
	dir      string
	host     string
	pid      int
	liveness Liveness
	maxAge   time.Duration
	backoff  Backoff
	logger   *log.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	hooks    hooks
}

// hooks run at points where another process may interleave. Tests only.
type hooks struct {
	releaseStaged func()
	guardAged     func()
}

// Handle is proof of ownership returned by Acquire.
type Handle struct {
	// Key is the resource key.
	Key string
	// Path is the marker file.
	Path string
	// Owner is the identity written into the marker.
	Owner Owner
	// AcquiredAt is when the marker was created.
	AcquiredAt time.Time
}

// New creates a Locker, creating the marker directory if needed.
func New(cfg Config) (*Locker, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newIOError("mkdir", dir, err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	liveness := cfg.Liveness
	if liveness == nil {
		liveness = ProcessLiveness{Host: host}
	}

	return &Locker{
		dir:      dir,
		host:     host,
		pid:      os.Getpid(),
		liveness: liveness,
		maxAge:   cfg.MaxAge,
		backoff:  cfg.Backoff.withDefaults(),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Dir returns the marker directory.
func (l *Locker) Dir() string {
	return l.dir
}

// MarkerPath returns the marker file for key.
func (l *Locker) MarkerPath(key string) string {
	return filepath.Join(l.dir, MarkerName(key))
}

// Acquire takes the lock for key according to wait.
//
// Errors: *BusyError when the wait policy gives up, *IOError on filesystem
// failures, or the context error (wrapped) when ctx ends first.
func (l *Locker) Acquire(ctx context.Context, key string, wait WaitPolicy) (*Handle, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	path := l.MarkerPath(key)
	start := l.now()
	var deadline time.Time
	if d, ok := wait.Timeout(); ok {
		deadline = start.Add(d)
	}
	delay := l.backoff.Initial

	for {
		h, holder, err := l.attempt(key, path)
		if err != nil {
			l.metrics.IncLockIOError()
			l.logger.Error("lock acquire failed", map[string]any{
				"key":   key,
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
		if h != nil {
			waited := l.now().Sub(start)
			l.metrics.ObserveLockAcquired(waited)
			l.logger.Info("lock acquired", map[string]any{
				"key":     key,
				"path":    path,
				"token":   h.Owner.Token,
				"wait_ms": waited.Milliseconds(),
			})
			return h, nil
		}

		sleep := delay
		switch {
		case wait.mode == waitNone:
			return nil, l.busy(key, path, holder, start)
		case wait.mode == waitBounded:
			remaining := deadline.Sub(l.now())
			if remaining <= 0 {
				return nil, l.busy(key, path, holder, start)
			}
			sleep = min(sleep, remaining)
		}

		l.logger.Debug("lock held, waiting", map[string]any{
			"key":      key,
			"wait":     wait.String(),
			"sleep_ms": sleep.Milliseconds(),
		})

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %q: %w", key, ctx.Err())
		case <-timer.C:
		}
		delay = l.backoff.next(delay)
	}
}

func (l *Locker) busy(key, path string, holder *Owner, start time.Time) error {
	waited := l.now().Sub(start)
	l.metrics.ObserveLockBusy(waited)
	fields := map[string]any{
		"key":     key,
		"path":    path,
		"wait_ms": waited.Milliseconds(),
	}
	if holder != nil {
		fields["holder_pid"] = holder.PID
		fields["holder_host"] = holder.Host
	}
	l.logger.Info("lock busy", fields)
	return &BusyError{Key: key, Path: path, Holder: holder, Waited: waited}
}

// attempt makes one creation attempt, reclaiming a stale marker once.
// Returns a handle on success, or the current holder (possibly nil) when busy.
func (l *Locker) attempt(key, path string) (*Handle, *Owner, error) {
	for try := 0; try < 2; try++ {
		h, err := l.create(key, path)
		if err != nil || h != nil {
			return h, nil, err
		}

		st, raw, err := l.inspectPath(path)
		if errors.Is(err, os.ErrNotExist) {
			// Released between our create and inspect.
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !st.Stale || try > 0 {
			return nil, st.holder(), nil
		}

		reclaimed, err := l.reclaim(st, raw)
		if err != nil {
			return nil, nil, err
		}
		if !reclaimed {
			return nil, st.holder(), nil
		}
	}
	return nil, nil, nil
}

func (l *Locker) create(key, path string) (*Handle, error) {
	now := l.now()
	owner := Owner{
		PID:   l.pid,
		Host:  l.host,
		Token: strconv.Itoa(l.pid) + "-" + uuid.NewString(),
	}
	data, err := encodeMarker(newMarker(key, owner, now))
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}

	created, err := writeMarker(l.dir, path, data)
	if err != nil || !created {
		return nil, err
	}
	return &Handle{Key: key, Path: path, Owner: owner, AcquiredAt: now}, nil
}

// reclaim removes a stale marker under an exclusive guard file, but only if
// the marker content is still what was judged stale.
func (l *Locker) reclaim(st *Status, observed []byte) (bool, error) {
	guard := st.Path + reclaimExt
	f, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			l.clearAbandonedGuard(guard)
			return false, nil
		}
		return false, newIOError("create", guard, err)
	}
	_ = f.Close()
	defer func() { _ = os.Remove(guard) }()

	current, _, err := readMarker(st.Path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, observed) {
		return false, nil
	}

	if err := os.Remove(st.Path); err != nil && !os.IsNotExist(err) {
		return false, newIOError("remove", st.Path, err)
	}

	l.metrics.IncLockStaleReclaimed()
	fields := map[string]any{
		"key":    st.Key,
		"path":   st.Path,
		"reason": st.StaleReason,
	}
	if st.Marker != nil {
		fields["previous_pid"] = st.Marker.PID
		fields["previous_host"] = st.Marker.Host
		fields["previous_acquired_at"] = st.Marker.AcquiredAt
	}
	l.logger.Warn("stale lock reclaimed", fields)
	return true, nil
}

// clearAbandonedGuard removes a reclaim guard left behind by a process that
// died mid-reclaim. The guard is moved aside first and only dropped if it is
// still the file that was judged abandoned.
func (l *Locker) clearAbandonedGuard(guard string) {
	info, err := os.Stat(guard)
	if err != nil || l.now().Sub(info.ModTime()) <= reclaimGuardTTL {
		return
	}
	if l.hooks.guardAged != nil {
		l.hooks.guardAged()
	}

	staged := stagingPath(guard, "guard")
	if err := os.Rename(guard, staged); err != nil {
		return
	}
	current, err := os.Stat(staged)
	if err == nil && os.SameFile(info, current) && current.ModTime().Equal(info.ModTime()) {
		_ = os.Remove(staged)
		l.logger.Warn("abandoned reclaim guard removed", map[string]any{
			"path":   guard,
			"age_ms": l.now().Sub(info.ModTime()).Milliseconds(),
		})
		return
	}
	// Another reclaimer created a new guard after the age check.
	_ = os.Link(staged, guard)
	_ = os.Remove(staged)
}

// stagingPath returns a unique hidden path in the directory of path. It never
// matches the marker glob.
func stagingPath(path, kind string) string {
	return filepath.Join(filepath.Dir(path), ".tollgate-"+kind+"-"+uuid.NewString()+".tmp")
}

// Release removes the marker if it still carries h's token.
// Releasing a nil handle, a foreign handle, an already released handle or a
// marker removed by someone else is a no-op.
//
// The marker is renamed to a private path before its token is checked, so a
// marker created by a new owner after that point is never removed.
func (l *Locker) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	staged := stagingPath(h.Path, "release")
	if err := os.Rename(h.Path, staged); err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug("lock already gone at release", map[string]any{"key": h.Key, "path": h.Path})
			return nil
		}
		l.metrics.IncLockIOError()
		return newIOError("rename", h.Path, err)
	}
	if l.hooks.releaseStaged != nil {
		l.hooks.releaseStaged()
	}

	raw, _, err := readMarker(staged)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		l.metrics.IncLockIOError()
		l.restoreMarker(h, staged)
		return err
	}

	m, err := decodeMarker(raw)
	if err != nil || m.Token != h.Owner.Token {
		l.logger.Warn("lock not released: marker owned by another holder", map[string]any{
			"key":  h.Key,
			"path": h.Path,
		})
		l.restoreMarker(h, staged)
		return nil
	}

	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		l.metrics.IncLockIOError()
		return newIOError("remove", staged, err)
	}
	l.logger.Info("lock released", map[string]any{
		"key":     h.Key,
		"path":    h.Path,
		"held_ms": l.now().Sub(h.AcquiredAt).Milliseconds(),
	})
	return nil
}

// restoreMarker puts a marker that Release moved aside but does not own back
// in place. If a new marker appeared meanwhile, the displaced one is dropped.
func (l *Locker) restoreMarker(h *Handle, staged string) {
	err := os.Link(staged, h.Path)
	_ = os.Remove(staged)
	if err != nil {
		l.logger.Warn("displaced lock marker dropped", map[string]any{
			"key":   h.Key,
			"path":  h.Path,
			"error": err.Error(),
		})
	}
}

// WithLock runs fn while holding the lock for key. The lock is released on
// every path, including a panic in fn. A release failure is returned only
// when fn succeeded.
func (l *Locker) WithLock(ctx context.Context, key string, wait WaitPolicy, fn func(context.Context, *Handle) error) (err error) {
	h, err := l.Acquire(ctx, key, wait)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(h); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx, h)
}

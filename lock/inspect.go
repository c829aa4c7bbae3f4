package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stale reasons reported in Status.StaleReason.
const (
	StaleOwnerDead = "owner_dead"
	StaleMaxAge    = "max_age"
)

// Status describes a lock marker as currently seen on disk.
type Status struct {
	// Key is the resource key. Empty when the marker is corrupt.
	Key string `json:"key"`
	// Path is the marker file.
	Path string `json:"path"`
	// Held is true when a marker exists.
	Held bool `json:"held"`
	// Marker is the decoded marker, nil when absent or corrupt.
	Marker *Marker `json:"marker,omitempty"`
	// Corrupt is true when the marker exists but cannot be decoded.
	Corrupt bool `json:"corrupt,omitempty"`
	// Age is time since acquisition (or file mtime for corrupt markers).
	Age time.Duration `json:"age_ns"`
	// Stale is true when the marker may be reclaimed.
	Stale bool `json:"stale"`
	// StaleReason is StaleOwnerDead or StaleMaxAge when Stale.
	StaleReason string `json:"stale_reason,omitempty"`
}

func (s *Status) holder() *Owner {
	if s == nil || s.Marker == nil {
		return nil
	}
	o := s.Marker.Owner()
	return &o
}

// Inspect reports the state of the lock for key without modifying it.
func (l *Locker) Inspect(key string) (*Status, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	path := l.MarkerPath(key)
	st, _, err := l.inspectPath(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Status{Key: key, Path: path}, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Key == "" {
		st.Key = key
	}
	return st, nil
}

// inspectPath reads and classifies one marker. It returns the raw bytes so
// a reclaim can verify the marker did not change.
func (l *Locker) inspectPath(path string) (*Status, []byte, error) {
	raw, info, err := readMarker(path)
	if err != nil {
		return nil, nil, err
	}

	st := &Status{Path: path, Held: true}
	m, derr := decodeMarker(raw)
	if derr != nil {
		// Unknown owner: only age can make it stale.
		st.Corrupt = true
		st.Age = l.now().Sub(info.ModTime())
		if l.maxAge > 0 && st.Age > l.maxAge {
			st.Stale, st.StaleReason = true, StaleMaxAge
		}
		return st, raw, nil
	}

	st.Key = m.Key
	st.Marker = m
	acquired, ok := m.Acquired()
	if !ok {
		acquired = info.ModTime()
	}
	st.Age = l.now().Sub(acquired)

	switch {
	case l.maxAge > 0 && st.Age > l.maxAge:
		st.Stale, st.StaleReason = true, StaleMaxAge
	case !l.liveness.IsAlive(m.Owner()):
		st.Stale, st.StaleReason = true, StaleOwnerDead
	}
	return st, raw, nil
}

// List reports every marker in the directory, sorted by key then path.
func (l *Locker) List() ([]Status, error) {
	matches, err := filepath.Glob(markerGlob(l.dir))
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(matches))
	for _, path := range matches {
		if strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		st, _, err := l.inspectPath(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Clean removes every stale marker and returns what was removed.
// Live markers are never touched.
func (l *Locker) Clean() ([]Status, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}

	var removed []Status
	for _, st := range all {
		if !st.Stale {
			continue
		}
		cur, raw, err := l.inspectPath(st.Path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !cur.Stale {
			continue
		}
		ok, err := l.reclaim(cur, raw)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, *cur)
		}
	}
	return removed, nil
}

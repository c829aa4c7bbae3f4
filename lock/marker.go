package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/tollgate/types"
)

const (
	markerExt        = ".lock"
	reclaimExt       = ".reclaim"
	maxSanitizedKey  = 64
	keyHashHexLength = 12
)

// Owner identifies the process that holds a lock.
type Owner struct {
	PID   int    `json:"pid"`
	Host  string `json:"host"`
	Token string `json:"token"`
}

// Marker is the on-disk record of a held lock, encoded as msgpack.
type Marker struct {
	PID        int    `msgpack:"pid" json:"pid"`
	Host       string `msgpack:"host" json:"host"`
	Token      string `msgpack:"token" json:"token"`
	Key        string `msgpack:"key" json:"key"`
	AcquiredAt string `msgpack:"acquired_at" json:"acquired_at"`
	Version    int    `msgpack:"version" json:"version"`
}

// Owner returns the marker's owner identity.
func (m *Marker) Owner() Owner {
	return Owner{PID: m.PID, Host: m.Host, Token: m.Token}
}

// Acquired parses AcquiredAt. ok is false for a missing or malformed timestamp.
func (m *Marker) Acquired() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, m.AcquiredAt)
	return t, err == nil
}

func newMarker(key string, owner Owner, at time.Time) Marker {
	return Marker{
		PID:        owner.PID,
		Host:       owner.Host,
		Token:      owner.Token,
		Key:        key,
		AcquiredAt: at.UTC().Format(time.RFC3339Nano),
		Version:    types.MarkerVersion,
	}
}

func encodeMarker(m Marker) ([]byte, error) {
	return msgpack.Marshal(&m)
}

func decodeMarker(data []byte) (*Marker, error) {
	var m Marker
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}
	if m.Token == "" {
		return nil, fmt.Errorf("decode marker: missing token")
	}
	return &m, nil
}

// MarkerName returns the file name used for key.
// Distinct keys always map to distinct names.
func MarkerName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return sanitizeKey(key) + "-" + hex.EncodeToString(sum[:])[:keyHashHexLength] + markerExt
}

// sanitizeKey keeps [A-Za-z0-9._-], replaces everything else with '_',
// and truncates to maxSanitizedKey bytes.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if b.Len() >= maxSanitizedKey {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	// Hidden files are skipped by List.
	if strings.HasPrefix(s, ".") {
		s = "_" + s[1:]
	}
	return s
}

// writeMarker atomically creates path holding data. It writes a temp file in
// the same directory, fsyncs it, and hard-links it into place. created is
// false when path already exists.
func writeMarker(dir, path string, data []byte) (created bool, err error) {
	tmp, err := os.CreateTemp(dir, ".tollgate-*.tmp")
	if err != nil {
		return false, newIOError("create", dir, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, newIOError("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, newIOError("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return false, newIOError("close", tmpName, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, newIOError("link", path, err)
	}
	return true, nil
}

// readMarker returns the raw marker bytes and file info.
// A missing marker yields os.ErrNotExist unwrapped.
func readMarker(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, newIOError("stat", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, newIOError("read", path, err)
	}
	return data, info, nil
}

func markerGlob(dir string) string {
	return filepath.Join(dir, "*"+markerExt)
}

// Package exec runs an external command once per changed file.
//
// The command receives a JSON document on stdin:
//
//	{"file": "...", "old_path": "...", "change_type": "...", "diff": "...", "index": 0, "total": 3}
//
// and writes a JSON array of findings to stdout. A non-zero exit status
// fails the file; stderr is carried in the error.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/tollgate/analyzer"
	"github.com/pithecene-io/tollgate/iox"
	"github.com/pithecene-io/tollgate/types"
)

// DefaultMaxOutput caps the stdout read from one invocation.
const DefaultMaxOutput = 4 << 20

// maxStderr bounds the stderr text kept in errors.
const maxStderr = 2048

// Config configures the command analyzer.
type Config struct {
	// Command is the executable (required).
	Command string
	// Args are passed before any file-specific input.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Timeout bounds each invocation. Zero means no timeout beyond ctx.
	Timeout time.Duration
	// MaxOutputBytes caps stdout (default DefaultMaxOutput).
	MaxOutputBytes int64
}

// Analyzer runs Config.Command per file.
type Analyzer struct {
	cfg  Config
	name string
}

// New validates cfg and returns an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("exec analyzer requires a command")
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutput
	}
	return &Analyzer{cfg: cfg, name: "exec:" + filepath.Base(cfg.Command)}, nil
}

// Name returns "exec:<command base name>".
func (a *Analyzer) Name() string { return a.name }

// input is the JSON document written to the command's stdin.
type input struct {
	File       string `json:"file"`
	OldPath    string `json:"old_path,omitempty"`
	ChangeType string `json:"change_type"`
	Diff       string `json:"diff"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
}

// ExitError is returned when the command exits non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("analyzer exited with status %d", e.Code)
	}
	return fmt.Sprintf("analyzer exited with status %d: %s", e.Code, e.Stderr)
}

// Analyze runs the command for f.
func (a *Analyzer) Analyze(ctx context.Context, f types.ChangedFile, index, total int) ([]types.Finding, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(input{
		File:       f.Path(),
		OldPath:    f.OldPath,
		ChangeType: string(f.ChangeType),
		Diff:       f.Diff,
		Index:      index,
		Total:      total,
	})
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	cmd := osexec.CommandContext(ctx, a.cfg.Command, a.cfg.Args...)
	cmd.Dir = a.cfg.Dir
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = deduplicateEnv(append(append(os.Environ(), a.cfg.Env...),
		"TOLLGATE_FILE="+f.Path(),
		"TOLLGATE_INDEX="+strconv.Itoa(index),
		"TOLLGATE_TOTAL="+strconv.Itoa(total),
	))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start analyzer: %w", err)
	}

	out, truncated, readErr := iox.ReadLimited(stdout, a.cfg.MaxOutputBytes)
	if truncated {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("analyzer %s: %w", f.Path(), ctxErr)
	}
	if waitErr != nil {
		var exitErr *osexec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: iox.Truncate(strings.TrimSpace(stderr.String()), maxStderr),
			}
		}
		return nil, fmt.Errorf("analyzer wait failed: %w", waitErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read analyzer output: %w", readErr)
	}
	if truncated {
		return nil, fmt.Errorf("analyzer output exceeds %d bytes", a.cfg.MaxOutputBytes)
	}

	return analyzer.ParseFindings(out, f.Path(), a.name)
}

// deduplicateEnv keeps the last occurrence of each env var key so
// per-file values win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

var _ analyzer.Analyzer = (*Analyzer)(nil)

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/lock"
	"github.com/pithecene-io/tollgate/pipeline"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"success", cli.Exit("", pipeline.ExitOK), 0, ""},
		{"lock busy no message", cli.Exit("", pipeline.ExitLockBusy), 2, ""},
		{"lock io with message", cli.Exit("cannot create marker", pipeline.ExitLockIO), 3, "cannot create marker"},
		{"wrapped", errors.Join(errors.New("context"), cli.Exit("inner", 42)), 42, "inner"},
		{"regular error", errors.New("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

// TestExitStatus_PipelineErrors checks that review errors surface with the
// pipeline's exit codes once wrapped by cli.Exit.
func TestExitStatus_PipelineErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&lock.BusyError{Key: "mr_review_billing"}, pipeline.ExitLockBusy},
		{&pipeline.SourceError{Err: errors.New("bad revision")}, pipeline.ExitSource},
		{fmt.Errorf("wrapped: %w", lock.ErrLockIO), pipeline.ExitLockIO},
	}
	for _, tt := range tests {
		code, _ := exitStatus(cli.Exit(tt.err.Error(), pipeline.ExitCode(tt.err)))
		if code != tt.want {
			t.Errorf("%v: code = %d, want %d", tt.err, code, tt.want)
		}
	}
}

package lode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"connection timeout after 30s", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"open /data/out: permission denied", ErrPermissionDenied},
		{"open /tmp/file: EACCES", ErrPermissionDenied},
		{"open /data/x: no such file or directory", ErrNotFound},
		{"NoSuchKey: key does not exist", ErrNotFound},
		{"write /data: no space left on device", ErrDiskFull},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"HTTP 429 TooManyRequests", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"ExpiredToken: the token has expired", ErrAuth},
		{"dial tcp 10.0.0.1:443: connection refused", ErrNetwork},
		{"something odd happened", ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "opaque" }
func (timeoutErr) Timeout() bool { return true }

func TestClassifyError_TimeoutInterface(t *testing.T) {
	if got := classifyError(fmt.Errorf("wrapped: %w", timeoutErr{})); got != ErrTimeout {
		t.Errorf("got %v, want ErrTimeout", got)
	}
}

func TestStorageError_IsAndUnwrap(t *testing.T) {
	base := fmt.Errorf("put: %w", context.DeadlineExceeded)
	err := WrapWriteError(base, "datasets/tollgate")

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T", err)
	}
	if se.Op != "write" || se.Path != "datasets/tollgate" {
		t.Errorf("Op/Path = %q/%q", se.Op, se.Path)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("underlying error not reachable through Unwrap")
	}
	if errors.Is(err, ErrDiskFull) {
		t.Error("matched unrelated kind")
	}
}

func TestWrap_NilAndAlreadyWrapped(t *testing.T) {
	if WrapReadError(nil, "x") != nil {
		t.Error("WrapReadError(nil) != nil")
	}
	inner := WrapInitError(errors.New("permission denied"), "ds")
	outer := WrapWriteError(inner, "other")
	var se *StorageError
	if !errors.As(outer, &se) || se.Op != "init" {
		t.Errorf("re-wrap changed op: %v", outer)
	}
}

//go:build unix

package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

const helperEnv = "TOLLGATE_LOCK_HELPER"

// TestHelperProcess is not a real test. It runs lock operations in a child
// process started by helperCommand.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	os.Exit(runHelper(mode))
}

func runHelper(mode string) int {
	dir := os.Getenv("LOCK_DIR")
	key := os.Getenv("LOCK_KEY")
	l, err := New(Config{Dir: dir, Backoff: Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond}})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	ctx := context.Background()

	switch mode {
	case "hold":
		hold, _ := time.ParseDuration(os.Getenv("LOCK_HOLD"))
		h, err := l.Acquire(ctx, key, WaitForever())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Println("acquired")
		time.Sleep(hold)
		if err := l.Release(h); err != nil {
			return 2
		}
		return 0

	case "crash":
		if _, err := l.Acquire(ctx, key, NoWait()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Println("acquired")
		return 0 // exit without releasing

	case "exclusive":
		rounds, _ := strconv.Atoi(os.Getenv("LOCK_ROUNDS"))
		sentinel := filepath.Join(dir, "inside")
		for range rounds {
			err := l.WithLock(ctx, key, WaitForever(), func(context.Context, *Handle) error {
				f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("mutual exclusion violated: %w", err)
				}
				_ = f.Close()
				time.Sleep(5 * time.Millisecond)
				return os.Remove(sentinel)
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 3
			}
		}
		return 0
	}
	return 2
}

func helperCommand(t *testing.T, mode, dir, key string, extra ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(),
		helperEnv+"="+mode,
		"LOCK_DIR="+dir,
		"LOCK_KEY="+key,
	)
	cmd.Env = append(cmd.Env, extra...)
	cmd.Stderr = os.Stderr
	return cmd
}

// startAndWaitAcquired starts cmd and blocks until it reports holding the lock.
func startAndWaitAcquired(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		if sc.Text() == "acquired" {
			go func() {
				for sc.Scan() {
				}
			}()
			return
		}
	}
	t.Fatal("helper exited before acquiring")
}

func TestCrossProcess_BusyThenAcquire(t *testing.T) {
	dir := t.TempDir()
	key := "branch_creation_proj_main_v2"

	child := helperCommand(t, "hold", dir, key, "LOCK_HOLD=700ms")
	startAndWaitAcquired(t, child)

	l := newTestLocker(t, Config{Dir: dir})
	_, err := l.Acquire(t.Context(), key, NoWait())
	var be *BusyError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BusyError", err)
	}
	if be.Holder == nil || be.Holder.PID != child.Process.Pid {
		t.Errorf("Holder = %+v, want pid %d", be.Holder, child.Process.Pid)
	}

	h, err := l.Acquire(t.Context(), key, WaitUpTo(10*time.Second))
	if err != nil {
		t.Fatalf("Acquire after child release: %v", err)
	}
	_ = l.Release(h)

	if err := child.Wait(); err != nil {
		t.Fatalf("child: %v", err)
	}
}

func TestCrossProcess_CrashedOwnerReclaimed(t *testing.T) {
	dir := t.TempDir()
	key := "gitlab_branch_creation_global_proj"

	child := helperCommand(t, "crash", dir, key)
	startAndWaitAcquired(t, child)
	if err := child.Wait(); err != nil {
		t.Fatalf("child: %v", err)
	}

	l := newTestLocker(t, Config{Dir: dir})
	st, err := l.Inspect(key)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Held || !st.Stale || st.StaleReason != StaleOwnerDead {
		t.Fatalf("Inspect = %+v, want held stale marker", st)
	}

	h, err := l.Acquire(t.Context(), key, NoWait())
	if err != nil {
		t.Fatalf("Acquire over crashed owner: %v", err)
	}
	_ = l.Release(h)
}

func TestCrossProcess_MutualExclusion(t *testing.T) {
	dir := t.TempDir()
	const procs = 4

	var wg sync.WaitGroup
	errs := make([]error, procs)
	for i := range procs {
		cmd := helperCommand(t, "exclusive", dir, "shared", "LOCK_ROUNDS=5")
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = cmd.Run()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("helper %d: %v", i, err)
		}
	}
}

func TestProcessLiveness(t *testing.T) {
	host, _ := os.Hostname()
	p := ProcessLiveness{Host: host}

	if !p.IsAlive(Owner{PID: os.Getpid(), Host: host}) {
		t.Error("own process reported dead")
	}
	if !p.IsAlive(Owner{PID: 999999999, Host: "elsewhere"}) {
		t.Error("remote owner reported dead")
	}

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	if p.IsAlive(Owner{PID: cmd.Process.Pid, Host: host}) {
		t.Error("exited process reported alive")
	}
}

package cmd

import (
	"flag"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tollgate/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	flags := ReadOnlyFlags()

	hasTUI := false
	for _, f := range flags {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}

	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestLockFlags_DoesNotAliasReadOnly(t *testing.T) {
	a := lockFlags(&cli.BoolFlag{Name: "one"})
	b := lockFlags(&cli.BoolFlag{Name: "two"})
	if a[len(a)-1].Names()[0] != "one" || b[len(b)-1].Names()[0] != "two" {
		t.Error("lockFlags results share a backing array")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

// newTestCLIContext builds a context where only set holds explicitly set flags.
func newTestCLIContext(t *testing.T, set, defaults map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range defaults {
		fs.String(name, val, "")
	}
	for name := range set {
		if fs.Lookup(name) == nil {
			fs.String(name, "", "")
		}
	}
	for name, val := range set {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		set      map[string]string
		defaults map[string]string
		config   string
		want     string
	}{
		{"cli wins", "pipeline", map[string]string{"pipeline": "cli"}, nil, "config", "cli"},
		{"config fallback", "pipeline", nil, map[string]string{"pipeline": ""}, "config", "config"},
		{"flag default", "source", nil, map[string]string{"source": "git"}, "", "git"},
		{"config beats flag default", "source", nil, map[string]string{"source": "git"}, "manifest", "manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCLIContext(t, tt.set, tt.defaults)
			if got := resolveString(c, tt.flag, tt.config); got != tt.want {
				t.Errorf("resolveString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveInt(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("workers", 0, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveInt(c, "workers", 8); got != 8 {
		t.Errorf("config fallback = %d, want 8", got)
	}
	_ = fs.Set("workers", "2")
	if got := resolveInt(c, "workers", 8); got != 2 {
		t.Errorf("cli = %d, want 2", got)
	}
}

func TestResolveBool(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("s3-path-style", false, "")
	c := cli.NewContext(app, fs, nil)

	if !resolveBool(c, "s3-path-style", true) {
		t.Error("expected config true when flag unset")
	}
	_ = fs.Set("s3-path-style", "false")
	if resolveBool(c, "s3-path-style", true) {
		t.Error("expected explicit --s3-path-style=false to win")
	}
}

func TestResolveDuration(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("adapter-timeout", 0, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "adapter-timeout", 10*time.Second); got != 10*time.Second {
		t.Errorf("config fallback = %v, want 10s", got)
	}
	_ = fs.Set("adapter-timeout", "30s")
	if got := resolveDuration(c, "adapter-timeout", 10*time.Second); got != 30*time.Second {
		t.Errorf("cli = %v, want 30s", got)
	}
}

func TestResolveRetries(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("adapter-retries", 3, "")
	c := cli.NewContext(app, fs, nil)

	zero := 0
	if got := resolveRetries(c, "adapter-retries", nil, 3); got != 3 {
		t.Errorf("default = %d, want 3", got)
	}
	if got := resolveRetries(c, "adapter-retries", &zero, 3); got != 0 {
		t.Errorf("config zero = %d, want 0", got)
	}
	_ = fs.Set("adapter-retries", "5")
	if got := resolveRetries(c, "adapter-retries", &zero, 3); got != 5 {
		t.Errorf("cli = %d, want 5", got)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders(map[string]string{"X-Team": "core", "X-Env": "dev"},
		[]string{"X-Env=prod", "Authorization=Bearer a=b"})
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	want := map[string]string{"X-Team": "core", "X-Env": "prod", "Authorization": "Bearer a=b"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"novalue", "=value"} {
		if _, err := parseHeaders(nil, []string{bad}); err == nil {
			t.Errorf("parseHeaders(%q) should fail", bad)
		}
	}
}

func TestStorageLocation(t *testing.T) {
	tests := []struct {
		backend, path, want string
		wantErr             bool
	}{
		{"fs", "/var/data", "/var/data", false},
		{"s3", "bucket/prefix", "s3://bucket/prefix", false},
		{"s3", "s3://bucket", "s3://bucket", false},
		{"gcs", "bucket", "", true},
	}
	for _, tt := range tests {
		got, err := storageLocation(tt.backend, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("storageLocation(%q, %q) err = %v", tt.backend, tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("storageLocation(%q, %q) = %q, want %q", tt.backend, tt.path, got, tt.want)
		}
	}
}

func TestSeverityBreakdown(t *testing.T) {
	got := severityBreakdown(map[types.Severity]int{
		types.SeverityMinor:    2,
		types.SeverityCritical: 1,
	})
	if got != " (critical=1, minor=2)" {
		t.Errorf("severityBreakdown = %q", got)
	}
	if severityBreakdown(nil) != "" {
		t.Error("empty counts should render nothing")
	}
}

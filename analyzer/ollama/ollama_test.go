package ollama

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/tollgate/types"
)

var testFile = types.ChangedFile{NewPath: "svc/handler.go", Diff: "+func handle() {}\n", ChangeType: types.ChangeAdded}

func newTestAnalyzer(t *testing.T, url string, mod func(*Config)) *Analyzer {
	t.Helper()
	cfg := Config{URL: url, Model: "codellama", BaseDelay: time.Millisecond}
	if mod != nil {
		mod(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAnalyze(t *testing.T) {
	var got generateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: `[{"severity":"major","category":"correctness","title":"empty handler","line":1}]`,
			Done:     true,
		})
	}))
	defer ts.Close()

	a := newTestAnalyzer(t, ts.URL+"/", nil)
	findings, err := a.Analyze(t.Context(), testFile, 0, 1)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Model != "codellama" || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if !strings.Contains(got.Prompt, "svc/handler.go") || !strings.Contains(got.Prompt, "func handle()") {
		t.Errorf("prompt missing file or diff: %q", got.Prompt)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Severity != types.SeverityMajor || f.FilePath != "svc/handler.go" || f.Source != "ollama:codellama" {
		t.Errorf("finding = %+v", f)
	}
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "[]", Done: true})
	}))
	defer ts.Close()

	a := newTestAnalyzer(t, ts.URL, func(c *Config) { c.Retries = 2 })
	findings, err := a.Analyze(t.Context(), testFile, 0, 1)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("got %d findings, want 0", len(findings))
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestAnalyzeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestAnalyzer(t, ts.URL, func(c *Config) { c.Retries = 3 }).Analyze(t.Context(), testFile, 0, 1)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if !strings.Contains(statusErr.Body, "model not found") {
		t.Errorf("Body = %q", statusErr.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestAnalyzeModelError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Error: "context length exceeded"})
	}))
	defer ts.Close()

	_, err := newTestAnalyzer(t, ts.URL, nil).Analyze(t.Context(), testFile, 0, 1)
	if err == nil || !strings.Contains(err.Error(), "context length exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnalyzeUnparseableResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "LGTM", Done: true})
	}))
	defer ts.Close()

	if _, err := newTestAnalyzer(t, ts.URL, nil).Analyze(t.Context(), testFile, 0, 1); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing model", Config{}},
		{"negative retries", Config{Model: "m", Retries: -1}},
		{"bad template", Config{Model: "m", Prompt: "{{.File"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCustomPrompt(t *testing.T) {
	var got generateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "[]", Done: true})
	}))
	defer ts.Close()

	a := newTestAnalyzer(t, ts.URL, func(c *Config) { c.Prompt = "review {{.Index}}/{{.Total}} {{.File}}" })
	if _, err := a.Analyze(t.Context(), testFile, 2, 5); err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "review 2/5 svc/handler.go" {
		t.Errorf("Prompt = %q", got.Prompt)
	}
}

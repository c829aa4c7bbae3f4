// Package ollama reviews changed files with a model served by an
// Ollama-compatible /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/pithecene-io/tollgate/adapter"
	"github.com/pithecene-io/tollgate/analyzer"
	"github.com/pithecene-io/tollgate/iox"
	"github.com/pithecene-io/tollgate/types"
)

// Defaults.
const (
	DefaultURL     = "http://localhost:11434"
	DefaultTimeout = 120 * time.Second
	DefaultRetries = 2
	// DefaultMaxResponse caps the response body read per request.
	DefaultMaxResponse = 8 << 20
)

// DefaultPrompt asks the model for a JSON findings array.
const DefaultPrompt = `You are reviewing a change to {{.File}} ({{.ChangeType}}).
Report real problems only: bugs, security issues, data loss, broken error handling.
Respond with a JSON array and nothing else. Each element has the keys
"severity" (critical, major, minor or suggestion), "category", "title",
"description", "line" (number or null) and "suggestion".
Respond with [] when there is nothing to report.

{{.Diff}}
`

// Config configures the analyzer.
type Config struct {
	// URL is the server base URL (default DefaultURL).
	URL string
	// Model is the model name (required).
	Model string
	// Prompt is a text/template over File, ChangeType, Diff, Index and Total.
	Prompt string
	// Timeout bounds each HTTP request (default 120s).
	Timeout time.Duration
	// Retries is the number of retries for transport errors and 5xx.
	Retries int
	// BaseDelay is the first retry delay.
	BaseDelay time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// Analyzer posts each file's diff to the model.
type Analyzer struct {
	cfg    Config
	prompt *template.Template
	client *http.Client
}

// New validates cfg and returns an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama analyzer requires a model")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Analyzer{cfg: cfg, prompt: tmpl, client: client}, nil
}

// Name returns "ollama:<model>".
func (a *Analyzer) Name() string { return "ollama:" + a.cfg.Model }

type promptData struct {
	File       string
	ChangeType string
	Diff       string
	Index      int
	Total      int
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Analyze asks the model to review f.
func (a *Analyzer) Analyze(ctx context.Context, f types.ChangedFile, index, total int) ([]types.Finding, error) {
	var prompt bytes.Buffer
	if err := a.prompt.Execute(&prompt, promptData{
		File:       f.Path(),
		ChangeType: string(f.ChangeType),
		Diff:       f.Diff,
		Index:      index,
		Total:      total,
	}); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	body, err := json.Marshal(generateRequest{Model: a.cfg.Model, Prompt: prompt.String()})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp generateResponse
	err = adapter.Retry(ctx, a.cfg.Retries, a.cfg.BaseDelay,
		func(ctx context.Context) error {
			r, err := a.generate(ctx, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		isClientError,
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", resp.Error)
	}
	return analyzer.ParseFindings([]byte(resp.Response), f.Path(), a.Name())
}

func (a *Analyzer) generate(ctx context.Context, body []byte) (generateResponse, error) {
	var out generateResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	data, _, err := iox.ReadLimited(resp.Body, DefaultMaxResponse)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{Code: resp.StatusCode, Body: iox.Truncate(strings.TrimSpace(string(data)), 512)}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// isClientError reports 4xx responses, which are never retried.
func isClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
}

var _ analyzer.Analyzer = (*Analyzer)(nil)

package analyzer

import (
	"errors"
	"testing"

	"github.com/pithecene-io/tollgate/types"
)

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		wantN     int
		wantSev   types.Severity
		wantFile  string
		wantError bool
	}{
		{name: "empty", out: "  \n", wantN: 0},
		{name: "empty array", out: "[]", wantN: 0},
		{
			name:     "bare array",
			out:      `[{"severity":"HIGH","title":"unchecked error","line":12}]`,
			wantN:    1,
			wantSev:  types.SeverityMajor,
			wantFile: "main.go",
		},
		{
			name:     "wrapped object",
			out:      `{"findings":[{"severity":"critical","title":"sql injection","file_path":"db.go"}]}`,
			wantN:    1,
			wantSev:  types.SeverityCritical,
			wantFile: "db.go",
		},
		{
			name:     "embedded in prose",
			out:      "Here is my review:\n```json\n[{\"severity\":\"nit\",\"title\":\"naming\"}]\n```\nDone.",
			wantN:    1,
			wantSev:  types.SeveritySuggestion,
			wantFile: "main.go",
		},
		{
			name:  "untitled entries skipped",
			out:   `[{"severity":"minor"},{"severity":"minor","description":"long line"}]`,
			wantN: 1, wantSev: types.SeverityMinor, wantFile: "main.go",
		},
		{name: "no json", out: "looks good to me", wantError: true},
		{name: "broken json", out: "[{\"title\": ]", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFindings([]byte(tt.out), "main.go", "test")
			if tt.wantError {
				if !errors.Is(err, ErrNoFindingsJSON) {
					t.Fatalf("err = %v, want ErrNoFindingsJSON", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFindings: %v", err)
			}
			if len(got) != tt.wantN {
				t.Fatalf("got %d findings, want %d", len(got), tt.wantN)
			}
			if tt.wantN == 0 {
				return
			}
			f := got[0]
			if f.Severity != tt.wantSev {
				t.Errorf("Severity = %q, want %q", f.Severity, tt.wantSev)
			}
			if f.FilePath != tt.wantFile {
				t.Errorf("FilePath = %q, want %q", f.FilePath, tt.wantFile)
			}
			if f.Source != "test" {
				t.Errorf("Source = %q, want test", f.Source)
			}
			if f.Title == "" {
				t.Error("Title is empty")
			}
		})
	}
}

func TestParseFindingsLine(t *testing.T) {
	got, err := ParseFindings([]byte(`[{"title":"x","line":7}]`), "a.go", "s")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Line == nil || *got[0].Line != 7 {
		t.Errorf("Line = %v, want 7", got[0].Line)
	}
}

func TestStatic(t *testing.T) {
	s := Static{Findings: []types.Finding{{Severity: types.SeverityMinor, Title: "t"}}}
	got, err := Func(s)(t.Context(), types.ChangedFile{NewPath: "x.go"}, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FilePath != "x.go" || got[0].Source != "static" {
		t.Fatalf("got %+v", got)
	}
	if s.Findings[0].FilePath != "" {
		t.Error("Static mutated its template findings")
	}
}

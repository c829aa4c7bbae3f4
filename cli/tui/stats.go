package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tollgate/types"
)

// fileRowsVisible is how many per-file rows fit below the stat boxes.
const fileRowsVisible = 12

// StatsModel is a Bubble Tea model for report and history views.
type StatsModel struct {
	viewType string
	data     any
	offset   int
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{viewType: viewType, data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.offset > 0 {
				m.offset--
			}
		case key.Matches(msg, keys.Down):
			if m.offset < m.maxOffset() {
				m.offset++
			}
		}
	}

	return m, nil
}

func (m StatsModel) maxOffset() int {
	var n int
	switch d := m.data.(type) {
	case *types.Report:
		n = len(d.Files)
	case []types.RunSummary:
		n = len(d)
	}
	return max(n-fileRowsVisible, 0)
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewReport:
		content = m.renderReport()
	case ViewHistory:
		content = m.renderHistory()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("↑/↓ scroll • q quit")
	return content + "\n" + help
}

func (m StatsModel) renderReport() string {
	rep, ok := m.data.(*types.Report)
	if !ok {
		return "Invalid data type for report"
	}
	sum := rep.Summary

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s · %s", sum.Pipeline, sum.RunID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Status:"), StatusStyle(sum.Status).Render(string(sum.Status)))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Resource:"), ValueStyle.Render(sum.ResourceKey))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Duration:"), ValueStyle.Render(sum.Duration().Round(time.Millisecond).String()))
	fmt.Fprintf(&b, "%s %s\n\n", LabelStyle.Render("Lock wait:"), ValueStyle.Render(fmt.Sprintf("%dms", sum.LockWaitMS)))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Files", sum.Items, highlightColor),
		m.renderStatBox("Succeeded", sum.Succeeded, successColor),
		m.renderStatBox("Failed", sum.Failed, errorColor),
		m.renderStatBox("Findings", sum.Findings, primaryColor),
	))
	b.WriteString("\n")

	sev := make([]string, 0, 4)
	for _, s := range []types.Severity{types.SeverityCritical, types.SeverityMajor, types.SeverityMinor, types.SeveritySuggestion} {
		sev = append(sev, m.renderStatBox(string(s), sum.BySeverity[s], SeverityColor(s)))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sev...))
	b.WriteString("\n\n")

	end := min(m.offset+fileRowsVisible, len(rep.Files))
	for _, f := range rep.Files[m.offset:end] {
		mark := SuccessStyle.Render("✓")
		detail := fmt.Sprintf("%d findings", f.Findings)
		if !f.Success {
			mark = ErrorStyle.Render("✗")
			detail = f.Error
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark, ValueStyle.Render(f.Path), HelpStyle.UnsetMarginTop().Render(detail))
	}
	return b.String()
}

func (m StatsModel) renderHistory() string {
	runs, ok := m.data.([]types.RunSummary)
	if !ok {
		return "Invalid data type for history"
	}
	counts := CountByStatus(runs)

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run History"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Runs", len(runs), highlightColor),
		m.renderStatBox("Completed", counts[types.OutcomeCompleted], successColor),
		m.renderStatBox("Partial", counts[types.OutcomePartial], warningColor),
		m.renderStatBox("Lock busy", counts[types.OutcomeLockBusy], warningColor),
		m.renderStatBox("Errors", len(runs)-counts[types.OutcomeCompleted]-counts[types.OutcomePartial]-counts[types.OutcomeLockBusy], errorColor),
	))
	b.WriteString("\n\n")

	end := min(m.offset+fileRowsVisible, len(runs))
	for _, r := range runs[m.offset:end] {
		fmt.Fprintf(&b, "%s  %-14s %s  %d files, %d findings\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Pipeline,
			StatusStyle(r.Status).Render(fmt.Sprintf("%-13s", r.Status)),
			r.Items, r.Findings)
	}
	return b.String()
}

// CountByStatus tallies runs per outcome.
func CountByStatus(runs []types.RunSummary) map[types.OutcomeStatus]int {
	out := make(map[types.OutcomeStatus]int)
	for _, r := range runs {
		out[r.Status]++
	}
	return out
}

func (m StatsModel) renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RenderStatic renders a view without starting a program, for
// non-interactive output and tests.
func RenderStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

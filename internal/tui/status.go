// Package tui renders the interactive status dashboard: one row per
// deployment with its health, deployed commit, and last error, refreshed
// on a timer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dockhand/internal/store"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	healthStyles = map[store.Health]lipgloss.Style{
		store.HealthHealthy:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		store.HealthUnhealthy: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		store.HealthFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		store.HealthUnknown:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

// Source provides the deployment rows to display.
type Source interface {
	ListDeployments(ctx context.Context) ([]store.Deployment, error)
}

// Row is one rendered deployment.
type Row struct {
	Name      string
	Health    store.Health
	Commit    string
	UpdatedAt time.Time
	LastError string
}

type rowsMsg []Row
type loadErrMsg struct{ err error }
type tickMsg time.Time

// Model is the bubbletea model behind `dockhand status --watch`.
type Model struct {
	source   Source
	refresh  time.Duration
	rows     []Row
	loadErr  string
	quitting bool
}

// NewModel creates the dashboard model. refresh is how often the rows
// are reloaded from the store.
func NewModel(source Source, refresh time.Duration) Model {
	return Model{source: source, refresh: refresh}
}

// Init triggers the first load and starts the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.tickCmd())
}

// Update handles key presses and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		}
	case rowsMsg:
		m.rows = msg
		m.loadErr = ""
	case loadErrMsg:
		m.loadErr = msg.err.Error()
	case tickMsg:
		return m, tea.Batch(m.loadCmd(), m.tickCmd())
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("dockhand deployments"))
	b.WriteString("\n\n")

	if m.loadErr != "" {
		b.WriteString(errStyle.Render("error: " + m.loadErr))
		b.WriteString("\n\n")
	}

	if len(m.rows) == 0 {
		b.WriteString("no deployments yet; run: dockhand repo add <name> <url>\n")
	} else {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-10s %-12s %-16s %s",
			"NAME", "HEALTH", "COMMIT", "UPDATED", "LAST ERROR")))
		b.WriteString("\n")

		for _, row := range m.rows {
			health := healthStyles[row.Health].Render(fmt.Sprintf("%-10s", string(row.Health)))
			b.WriteString(fmt.Sprintf("%-20s %s %-12s %-16s %s\n",
				truncate(row.Name, 20),
				health,
				shortCommit(row.Commit),
				humanAge(row.UpdatedAt),
				truncate(row.LastError, 48),
			))
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("r refresh · q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deployments, err := m.source.ListDeployments(ctx)
		if err != nil {
			return loadErrMsg{err: err}
		}

		rows := make([]Row, 0, len(deployments))
		for _, d := range deployments {
			rows = append(rows, Row{
				Name:      d.Name,
				Health:    d.Health,
				Commit:    d.ContentHash,
				UpdatedAt: d.UpdatedAt,
				LastError: d.LastError,
			})
		}
		return rowsMsg(rows)
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	if commit == "" {
		return "-"
	}
	return commit
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// humanAge renders a compact relative timestamp for the UPDATED column.
func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

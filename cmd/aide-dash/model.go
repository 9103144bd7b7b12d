package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"aide/pkg/protocol"
)

// pollInterval is the fallback refresh when no file events arrive.
const pollInterval = 5 * time.Second

// tickMsg is sent by Bubble Tea on every poll interval.
type tickMsg time.Time

// snapshotMsg carries a freshly loaded snapshot, or the error loading it.
type snapshotMsg struct {
	snap Snapshot
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// ViewType is one dashboard tab.
type ViewType int

const (
	// ActivityView shows the activity log.
	ActivityView ViewType = iota
	// ApprovalsView shows pending approvals.
	ApprovalsView
	// TrustView shows trust scores.
	TrustView
)

var viewNames = [...]string{"Activity", "Approvals", "Trust"} //nolint:gochecknoglobals // tab labels

// Model is the Bubble Tea model for aide-dash.
type Model struct {
	source  *source
	watcher *dbWatcher
	styles  Styles
	user    string

	activeView ViewType
	tables     [3]table.Model

	snap      Snapshot
	err       error
	updatedAt time.Time
	now       func() time.Time

	width  int
	height int
}

func newModel(src *source, watcher *dbWatcher, user string) Model {
	m := Model{
		source:  src,
		watcher: watcher,
		styles:  NewStyles(DefaultTheme()),
		user:    user,
		now:     time.Now,
	}
	m.tables[ActivityView] = newTable([]table.Column{
		{Title: "Time", Width: 19},
		{Title: "User", Width: 10},
		{Title: "Agent", Width: 10},
		{Title: "Status", Width: 18},
		{Title: "Detail", Width: 50},
	})
	m.tables[ApprovalsView] = newTable([]table.Column{
		{Title: "ID", Width: 36},
		{Title: "User", Width: 10},
		{Title: "Action", Width: 18},
		{Title: "Expires in", Width: 10},
		{Title: "Turn", Width: 36},
	})
	m.tables[TrustView] = newTable([]table.Column{
		{Title: "Agent", Width: 10},
		{Title: "Action", Width: 12},
		{Title: "Level", Width: 14},
		{Title: "Success", Width: 10},
		{Title: "Override", Width: 8},
	})
	m.tables[ActivityView].Focus()
	return m
}

func newTable(cols []table.Column) table.Model {
	t := table.New(table.WithColumns(cols), table.WithHeight(15))
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(DefaultTheme().Primary)
	s.Selected = s.Selected.Foreground(lipgloss.Color("0")).Background(DefaultTheme().Secondary)
	t.SetStyles(s)
	return t
}

func (m Model) loadCmd() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := src.load(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.watcher.next(), tickCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		for i := range m.tables {
			m.tables[i].SetHeight(max(msg.Height-6, 3))
		}

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setSnapshot(msg.snap)

	case fsChangeMsg:
		return m, tea.Batch(m.loadCmd(), m.watcher.next())

	case tickMsg:
		return m, tea.Batch(m.loadCmd(), tickCmd())
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab", "right", "l":
		return m.switchView((m.activeView + 1) % ViewType(len(viewNames))), nil
	case "shift+tab", "left", "h":
		return m.switchView((m.activeView + ViewType(len(viewNames)) - 1) % ViewType(len(viewNames))), nil
	case "1":
		return m.switchView(ActivityView), nil
	case "2":
		return m.switchView(ApprovalsView), nil
	case "3":
		return m.switchView(TrustView), nil
	case "r":
		return m, m.loadCmd()
	}
	var cmd tea.Cmd
	m.tables[m.activeView], cmd = m.tables[m.activeView].Update(msg)
	return m, cmd
}

func (m Model) switchView(v ViewType) Model {
	m.tables[m.activeView].Blur()
	m.activeView = v
	m.tables[v].Focus()
	return m
}

// setSnapshot replaces the table rows.
func (m *Model) setSnapshot(snap Snapshot) {
	m.snap = snap
	m.updatedAt = m.now()

	rows := make([]table.Row, 0, len(snap.Activity))
	for _, rec := range snap.Activity {
		agentType := string(rec.AgentType)
		if agentType == "" {
			agentType = "supervisor"
		}
		rows = append(rows, table.Row{
			rec.CreatedAt.Local().Format(time.DateTime),
			rec.UserID, agentType, string(rec.Status), rec.Detail,
		})
	}
	m.tables[ActivityView].SetRows(rows)

	rows = make([]table.Row, 0, len(snap.Pending))
	for _, req := range snap.Pending {
		left := max(req.ExpiresAt.Sub(m.updatedAt), 0).Round(time.Second)
		rows = append(rows, table.Row{
			req.ID, req.UserID, fmt.Sprintf("%s/%s", req.AgentType, req.ActionType), left.String(), req.TurnToken,
		})
	}
	m.tables[ApprovalsView].SetRows(rows)

	rows = make([]table.Row, 0, len(snap.Trust))
	for _, s := range snap.Trust {
		override := ""
		if s.ManualOverride {
			override = "manual"
		}
		rows = append(rows, table.Row{
			string(s.AgentType), s.ActionType,
			fmt.Sprintf("%d %s", s.Level, s.Level),
			fmt.Sprintf("%d/%d", s.SuccessfulActions, s.TotalActions),
			override,
		})
	}
	m.tables[TrustView].SetRows(rows)
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n\n")

	if m.activeView == TrustView && m.user == "" {
		sb.WriteString(m.styles.Muted.Render("Trust scores are per user; start with --user to see them."))
	} else {
		sb.WriteString(m.tables[m.activeView].View())
	}

	sb.WriteString("\n")
	sb.WriteString(m.renderStatusBar())
	return sb.String()
}

func (m Model) renderHeader() string {
	tabs := make([]string, 0, len(viewNames)+1)
	tabs = append(tabs, m.styles.Title.Render("aide"))
	for i, name := range viewNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if ViewType(i) == ApprovalsView && len(m.snap.Pending) > 0 {
			label += fmt.Sprintf(" (%d)", len(m.snap.Pending))
		}
		if ViewType(i) == m.activeView {
			tabs = append(tabs, m.styles.ActiveTab.Render(label))
		} else {
			tabs = append(tabs, m.styles.Tab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// renderStatusBar shows per-status activity counts, the last refresh time
// and any load error.
func (m Model) renderStatusBar() string {
	if m.err != nil {
		return m.styles.StatusBar.Render(m.styles.Error.Render("error: " + m.err.Error()))
	}
	c := m.snap.Counts
	parts := []string{
		m.styles.Success.Render(fmt.Sprintf("%d completed", c[protocol.ActivityCompleted])),
		m.styles.Warning.Render(fmt.Sprintf("%d awaiting approval", len(m.snap.Pending))),
		m.styles.Warning.Render(fmt.Sprintf("%d cancelled", c[protocol.ActivityCancelled])),
		m.styles.Error.Render(fmt.Sprintf("%d errors", c[protocol.ActivityError])),
	}
	scope := "all users"
	if m.user != "" {
		scope = "user " + m.user
	}
	updated := "never"
	if !m.updatedAt.IsZero() {
		updated = m.updatedAt.Format(time.TimeOnly)
	}
	line := strings.Join(parts, " · ") + m.styles.Muted.Render(fmt.Sprintf(" · %s · updated %s · tab switch · r refresh · q quit", scope, updated))
	return m.styles.StatusBar.Render(line)
}

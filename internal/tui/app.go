// Package tui is the interactive monitor: a bubbletea app over the run
// catalog and each run's event log. It only reads pipeline state; the one
// mutation it offers is killing or deleting a run.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loomworks/loom/internal/eventlog"
	"github.com/loomworks/loom/internal/orchestrator"
	"github.com/loomworks/loom/internal/storage"
	"github.com/loomworks/loom/internal/workspace"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewOutput
)

type App struct {
	store   *storage.Store
	runsDir string

	view        View
	runs        []*storage.RunRecord
	selectedIdx int

	selectedRun      *storage.RunRecord
	phases           []*storage.PhaseRecord
	selectedPhaseIdx int

	spinner     spinner.Model
	viewport    viewport.Model
	outputTitle string

	width  int
	height int
	err    error
}

func NewApp(store *storage.Store, runsDir string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning
	return &App{
		store:   store,
		runsDir: runsDir,
		view:    ViewRunList,
		spinner: sp,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd(), a.spinner.Tick)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == storage.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 4
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) && a.selectedIdx > 0 {
			a.selectedIdx = len(a.runs) - 1
		}
		return a, nil

	case tickMsg:
		// Keep ticking even when idle so new runs are picked up.
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		if a.view == ViewRunDetail && a.selectedRun != nil {
			return a, tea.Batch(a.loadRunDetail(a.selectedRun.Name), a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selectedRun = msg.run
			a.phases = msg.phases
			a.view = ViewRunDetail
			if a.selectedPhaseIdx >= len(a.phases) {
				a.selectedPhaseIdx = 0
			}
		}
		return a, nil

	case runKilledMsg:
		a.err = msg.err
		return a, a.loadRuns

	case runDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.runs)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadRuns

	case outputLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.outputTitle = msg.title
		a.viewport.SetContent(msg.content)
		a.viewport.GotoBottom()
		a.view = ViewOutput
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewOutput:
		return a.handleOutputKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].Name)
		}

	case "r":
		return a, a.loadRuns

	case "x":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.killRun(a.runs[a.selectedIdx].Name)
		}

	case "d":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].Name)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.phases = nil
		a.selectedPhaseIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedPhaseIdx > 0 {
			a.selectedPhaseIdx--
		}

	case "down", "j":
		if a.selectedPhaseIdx < len(a.phases)-1 {
			a.selectedPhaseIdx++
		}

	case "o":
		if len(a.phases) > 0 && a.selectedPhaseIdx < len(a.phases) && a.selectedRun != nil {
			return a, a.loadPhaseOutput(a.selectedRun.Name, a.phases[a.selectedPhaseIdx])
		}

	case "e":
		if a.selectedRun != nil {
			return a, a.loadEvents(a.selectedRun.Name)
		}
	}

	return a, nil
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil
	case "ctrl+c":
		return a, tea.Quit
	}
	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewOutput:
		return a.viewOutput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPartial   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Loom") + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with `loom run <brief.md>`.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case run.Status != storage.RunStatusRunning:
				line = "  " + dimStyle.Render(line)
			default:
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [x] kill  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatRunLine(run *storage.RunRecord) string {
	status := a.formatStatus(run.Status)
	age := formatAge(run.CreatedAt)
	brief := truncate(strings.ReplaceAll(run.Brief, "\n", " "), 35)
	return fmt.Sprintf("%-20s %s  %-6s  %s", run.Name, status, age, brief)
}

func (a *App) formatStatus(status storage.RunStatus) string {
	switch status {
	case storage.RunStatusRunning:
		return a.spinner.View() + statusRunning.Render("running")
	case storage.RunStatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case storage.RunStatusPartial:
		return statusPartial.Render("◐ partial")
	case storage.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	case storage.RunStatusAborted:
		return statusFailed.Render("⊘ aborted")
	default:
		return dimStyle.Render(string(status))
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}
	run := a.selectedRun

	s := titleStyle.Render("Run "+run.Name) + "  " + a.formatStatus(run.Status) + "\n\n"
	s += truncate(strings.ReplaceAll(run.Brief, "\n", " "), 78) + "\n\n"
	s += labelStyle.Render("Workspace: ") + dimStyle.Render(run.WorkspacePath) + "\n\n"

	s += "Phases\n"
	s += "──────\n"

	if len(a.phases) == 0 {
		s += "(no phases recorded yet)\n"
	} else {
		for i, p := range a.phases {
			mark := "○"
			switch p.Status {
			case "succeeded":
				mark = statusSucceeded.Render("✓")
			case "failed", "aborted":
				mark = statusFailed.Render("✗")
			case "skipped", "abandoned":
				mark = statusPartial.Render("⊘")
			}

			line := fmt.Sprintf("%-12s %s  attempts:%d", p.Phase, mark, p.Attempts)
			if p.ExitCode != nil && *p.ExitCode != 0 {
				line += "  " + statusFailed.Render(fmt.Sprintf("exit:%d", *p.ExitCode))
			}
			if p.DurationSec != nil {
				line += "  " + dimStyle.Render(formatDuration(time.Duration(*p.DurationSec)*time.Second))
			}

			if i == a.selectedPhaseIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [o] phase output  [e] event log  [esc] back  [q] quit")

	return s
}

func (a *App) viewOutput() string {
	s := titleStyle.Render(a.outputTitle) + "\n"
	s += a.viewport.View() + "\n"
	s += helpStyle.Render("[↑/↓] scroll  [esc] back  [q] quit")
	return s
}

// Messages

type runsLoadedMsg struct {
	runs []*storage.RunRecord
	err  error
}

type runDetailMsg struct {
	run    *storage.RunRecord
	phases []*storage.PhaseRecord
	err    error
}

type runKilledMsg struct {
	name string
	err  error
}

type runDeletedMsg struct {
	name string
	err  error
}

type outputLoadedMsg struct {
	title   string
	content string
	err     error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(20)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(name string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.store.GetRun(name)
		if err != nil {
			return runDetailMsg{err: err}
		}
		phases, err := a.store.PhasesForRun(name)
		return runDetailMsg{run: run, phases: phases, err: err}
	}
}

func (a *App) killRun(name string) tea.Cmd {
	return func() tea.Msg {
		ws, err := workspace.Open(a.runsDir, name)
		if err != nil {
			return runKilledMsg{err: err}
		}
		log, err := eventlog.Open(ws.LogsDir)
		if err != nil {
			return runKilledMsg{err: err}
		}
		if _, err := orchestrator.Kill(log); err != nil {
			return runKilledMsg{err: err}
		}
		err = a.store.SetRunStatus(name, storage.RunStatusAborted)
		return runKilledMsg{name: name, err: err}
	}
}

func (a *App) deleteRun(name string) tea.Cmd {
	return func() tea.Msg {
		if ws, err := workspace.Open(a.runsDir, name); err == nil {
			os.RemoveAll(ws.Root)
		}
		err := a.store.DeleteRun(name)
		return runDeletedMsg{name: name, err: err}
	}
}

func (a *App) loadPhaseOutput(runName string, p *storage.PhaseRecord) tea.Cmd {
	return func() tea.Msg {
		ws, err := workspace.Open(a.runsDir, runName)
		if err != nil {
			return outputLoadedMsg{err: err}
		}
		attempt := p.Attempts
		if attempt < 1 {
			attempt = 1
		}
		data, err := os.ReadFile(ws.PhaseOutputPath(p.Phase, attempt))
		if err != nil {
			return outputLoadedMsg{err: fmt.Errorf("phase output not found: %w", err)}
		}
		content := string(data)
		if content == "" {
			content = "(no output)"
		}
		title := fmt.Sprintf("%s / %s (attempt %d)", runName, p.Phase, attempt)
		return outputLoadedMsg{title: title, content: content}
	}
}

func (a *App) loadEvents(runName string) tea.Cmd {
	return func() tea.Msg {
		ws, err := workspace.Open(a.runsDir, runName)
		if err != nil {
			return outputLoadedMsg{err: err}
		}
		log, err := eventlog.Open(ws.LogsDir)
		if err != nil {
			return outputLoadedMsg{err: err}
		}
		records, err := log.Records()
		if err != nil {
			return outputLoadedMsg{err: err}
		}

		var sb strings.Builder
		for _, rec := range records {
			sb.WriteString(fmt.Sprintf("%s  %-12s %s", rec.TS, rec.Phase, rec.Status))
			if rec.PID != nil {
				sb.WriteString(fmt.Sprintf("  pid:%d", *rec.PID))
			}
			if rec.ExitCode != nil {
				sb.WriteString(fmt.Sprintf("  exit:%d", *rec.ExitCode))
			}
			if rec.DurationSec != nil {
				sb.WriteString(fmt.Sprintf("  %ds", *rec.DurationSec))
			}
			sb.WriteString("\n")
		}
		content := sb.String()
		if content == "" {
			content = "(no events yet)"
		}
		return outputLoadedMsg{title: runName + " / events", content: content}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

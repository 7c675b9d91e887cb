// model.go is the watch-mode dashboard: a compact live view over the
// session's persisted status, refreshed whenever the session directory
// changes on disk.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/drydock-dev/drydock/internal/session"
)

type refreshMsg struct{}

type watchErrMsg struct{ err error }

// Model renders one session's status summary and open questions.
type Model struct {
	sessions *session.Store
	project  string
	feature  string

	spinner   spinner.Model
	watcher   *fsnotify.Watcher
	status    *session.StatusSummary
	questions []session.Question
	err       error
}

// New builds the dashboard model. watchDir is the absolute path of the
// session's document directory; pass "" to disable filesystem refresh.
func New(sessions *session.Store, project, feature, watchDir string) (Model, error) {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		sessions: sessions,
		project:  project,
		feature:  feature,
		spinner:  s,
	}

	if watchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return Model{}, fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Add(watchDir); err != nil {
			_ = watcher.Close()
			return Model{}, fmt.Errorf("watch %s: %w", watchDir, err)
		}
		m.watcher = watcher
	}

	m.reload()
	return m, nil
}

func (m *Model) reload() {
	status, err := m.sessions.ReadStatus(m.project, m.feature)
	if err != nil {
		m.err = err
		return
	}
	questions, err := m.sessions.LoadQuestions(m.project, m.feature)
	if err != nil {
		m.err = err
		return
	}
	m.status = status
	m.questions = questions
	m.err = nil
}

// waitForChange blocks on the next filesystem event in the session dir.
func (m Model) waitForChange() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case _, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			return refreshMsg{}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return watchErrMsg{err}
		}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.watcher != nil {
				_ = m.watcher.Close()
			}
			return m, tea.Quit
		case "r":
			m.reload()
			return m, nil
		}

	case refreshMsg:
		m.reload()
		return m, m.waitForChange()

	case watchErrMsg:
		m.err = msg.err
		return m, m.waitForChange()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("drydock %s/%s", m.project, m.feature)))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(blockerStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	if m.status == nil {
		b.WriteString(m.spinner.View())
		b.WriteString(dimStyle.Render(" waiting for the first turn..."))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("q quit · r refresh"))
		return b.String()
	}

	st := m.status
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("stage", st.Stage)
	row("status", st.Status)
	row("breaker", breakerStyle(st.BreakerState).Render(st.BreakerState))
	if st.CurrentStep != "" {
		row("next step", st.CurrentStep)
	}

	if len(st.StepCounts) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("steps"))
		b.WriteString("\n")
		b.WriteString(renderStepCounts(st.StepCounts))
	}

	open := openQuestions(m.questions)
	if len(open) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("open questions (%d)", len(open))))
		b.WriteString("\n")
		for _, q := range open {
			style := questionStyle
			prefix := "?"
			if q.Blocker {
				style = blockerStyle
				prefix = "!"
			}
			b.WriteString(style.Render(fmt.Sprintf("  %s %s  %s", prefix, shortID(q.ID), q.Text)))
			b.WriteString("\n")
		}
	}

	b.WriteString(helpStyle.Render("q quit · r refresh"))
	return b.String()
}

func renderStepCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %-13s %d\n", k, counts[k]))
	}
	return b.String()
}

func openQuestions(qs []session.Question) []session.Question {
	var open []session.Question
	for _, q := range qs {
		if !q.Answered() {
			open = append(open, q)
		}
	}
	return open
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

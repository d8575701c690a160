package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/rice"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	sidebarStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// ProgressBar renders one cell per parameter, filled when known.
func ProgressBar(p models.Parameters) string {
	n := rice.SetCount(p)
	return strings.Repeat("█", n) + strings.Repeat("░", len(models.CanonicalParams)-n)
}

// Summary is a one-line plain description of a task.
func Summary(task models.Task) string {
	var b strings.Builder
	b.WriteString(task.Description)
	if task.Score != nil {
		fmt.Fprintf(&b, " (RICE %.2f)", *task.Score)
	} else {
		fmt.Fprintf(&b, " (%d/4)", rice.SetCount(task.Parameters))
	}
	switch {
	case task.IsSynced() && task.Stale():
		b.WriteString(" [saved, edited]")
	case task.IsSynced():
		b.WriteString(" [saved]")
	case task.SyncStatus == models.SyncStatusPartiallySynced:
		b.WriteString(" [partly saved]")
	}
	return b.String()
}

func missingList(task models.Task) string {
	missing := rice.Missing(task.Parameters)
	if len(missing) == 0 {
		return "nothing"
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		runes = runes[:width-1]
	}
	return string(runes) + "…"
}

// renderSidebar shows the focus task, the tasks still being filled in
// and the scored tasks best first.
func renderSidebar(state conversation.State, width int) string {
	inner := width - 4
	if inner < 10 {
		inner = 10
	}
	var lines []string

	lines = append(lines, sectionStyle.Render("FOCUS"))
	if state.Focus == nil {
		lines = append(lines, mutedStyle.Render("  none"))
	} else {
		f := *state.Focus
		lines = append(lines,
			"  "+truncate(f.Description, inner-2),
			"  "+ProgressBar(f.Parameters)+" "+mutedStyle.Render("missing: "+missingList(f)),
		)
	}

	waiting := make([]models.Task, 0, len(state.PriorityQueue))
	for _, task := range state.PriorityQueue {
		if state.Focus == nil || task.ID != state.Focus.ID {
			waiting = append(waiting, task)
		}
	}
	if len(waiting) > 0 {
		lines = append(lines, "", sectionStyle.Render(fmt.Sprintf("TO FILL IN (%d)", len(waiting))))
		for _, task := range waiting {
			lines = append(lines, truncate("  - "+Summary(task), inner))
		}
	}

	scored := append([]models.Task(nil), state.Complete...)
	sort.SliceStable(scored, func(i, j int) bool { return *scored[i].Score > *scored[j].Score })
	lines = append(lines, "", sectionStyle.Render(fmt.Sprintf("SCORED (%d)", len(scored))))
	for i, task := range scored {
		row := truncate(fmt.Sprintf("  %d. %s", i+1, Summary(task)), inner)
		if task.IsSynced() {
			row = okStyle.Render(row)
		}
		lines = append(lines, row)
	}

	return sidebarStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func renderLine(line chatLine, width int) string {
	label := userStyle.Render("you")
	switch line.role {
	case models.TurnRoleAssistant:
		label = assistantStyle.Render("bishma")
	case models.TurnRoleSystem:
		label = mutedStyle.Render("--")
	}
	body := lipgloss.NewStyle().Width(maxInt(width, 20)).Render(line.text)
	if line.failed {
		body = errStyle.Render(body)
	}
	return label + "\n" + body
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

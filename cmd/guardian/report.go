package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"guardian/internal/catalog"
	"guardian/internal/guardian"
	"guardian/internal/notification"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

func printSteps(out io.Writer, results []catalog.StepResult) {
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(out, "%s step %d rejected as expected: %v\n", yellow("!"), result.Index, result.Err)
		}
	}
}

func printTasks(out io.Writer, g *guardian.Guardian) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, bold("Tasks"))

	rows := make([][]string, 0, len(g.Tasks()))
	for _, task := range g.Tasks() {
		rows = append(rows, []string{
			task.ID,
			colorState(task.State),
			fmt.Sprintf("%d%%", task.Progress),
			string(task.Kind),
			fmt.Sprintf("%d", task.RetryCount),
			task.Description,
		})
	}
	fmt.Fprint(out, renderTable([]string{"ID", "STATE", "PROGRESS", "KIND", "RETRIES", "DESCRIPTION"}, rows))

	progress := g.Progress()
	fmt.Fprintf(out, "\n%s %d/%d verified (%d%%)\n", bold("Progress:"), progress.Completed, progress.Total, progress.Percentage)
}

func printEvents(out io.Writer, g *guardian.Guardian) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, bold("Events"))
	writeEvents(out, g.EventHistory())
}

func writeEvents(out io.Writer, events []guardian.Event) {
	for _, event := range events {
		fmt.Fprintf(out, "%s %-19s %s %s\n",
			gray(event.Timestamp.Format("15:04:05.000")), event.Kind, event.TaskID, notification.Summary(event))
	}
}

// renderTable lays rows out in left-aligned columns. Widths are measured
// without escape sequences so colored cells line up.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			s := style
			if i < len(cells)-1 {
				s = s.Width(widths[i] + 2)
			}
			parts[i] = s.Render(cell)
		}
		b.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " "))
		b.WriteByte('\n')
	}

	writeRow(headers, headerStyle)
	for _, row := range rows {
		writeRow(row, lipgloss.NewStyle())
	}
	return b.String()
}

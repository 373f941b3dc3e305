package output

import (
	"fmt"
	"strings"

	"distsync.dev/distsync/internal/worker"
)

// RenderOutcomes summarizes the work items run for one payload
func (p *Printer) RenderOutcomes(outcomes []worker.Outcome) string {
	if len(outcomes) == 0 {
		return p.style(colorDim).Render("No handler is interested in this event.") + "\n"
	}

	var b strings.Builder
	failed := 0
	for _, outcome := range outcomes {
		var icon, detail string
		switch {
		case outcome.Err != nil:
			failed++
			icon = p.style(colorError).Render("✗")
			detail = p.style(colorError).Render(outcome.Err.Error())
		case !outcome.Result.Success:
			failed++
			icon = p.style(colorError).Render("✗")
			detail = p.style(colorError).Render(outcome.Result.Message)
		default:
			icon = p.style(colorSuccess).Render("✓")
			detail = outcome.Result.Message
		}

		line := fmt.Sprintf("  %s %s %s", icon, p.renderer.NewStyle().Bold(true).Render(string(outcome.Item.Handler)), detail)
		if outcome.Attempts > 1 {
			line += " " + p.style(colorDim).Render(fmt.Sprintf("(%d attempts)", outcome.Attempts))
		}
		b.WriteString(line + "\n")
	}

	if failed > 0 {
		b.WriteString(p.style(colorError).Render(fmt.Sprintf("Completed: %d, Failed: %d", len(outcomes)-failed, failed)))
	} else {
		b.WriteString(p.style(colorSuccess).Render(fmt.Sprintf("All %d work items succeeded", len(outcomes))))
	}
	b.WriteString("\n")
	return b.String()
}

package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	humanize "github.com/dustin/go-humanize"

	"distsync.dev/distsync/internal/model"
)

const (
	colID = iota
	colSource
	colDistribution
	colCreated
)

// RenderRelations renders the stored relations as a table. Creation times
// are shown relative to now.
func (p *Printer) RenderRelations(relations []model.Relation, now time.Time) string {
	if len(relations) == 0 {
		return p.style(colorDim).Render("No relations stored.") + "\n"
	}

	rows := make([][]string, 0, len(relations))
	for _, relation := range relations {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(relation.ID), 10),
			pullRequestLabel(relation.Source.PullRequestIdentity),
			pullRequestLabel(relation.Distribution.PullRequestIdentity),
			humanize.RelTime(relation.CreatedAt, now, "ago", "from now"),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.style(colorDim)).
		Headers("ID", "Source", "Distribution", "Created").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := p.renderer.NewStyle().PaddingLeft(1).PaddingRight(1)
			if row == table.HeaderRow {
				return s.Bold(true).Foreground(colorHeader)
			}
			switch col {
			case colSource:
				return s.Foreground(colorSource)
			case colDistribution:
				return s.Foreground(colorDist)
			case colCreated:
				return s.Foreground(colorDim)
			}
			return s
		})
	return t.Render() + "\n"
}

func pullRequestLabel(identity model.PullRequestIdentity) string {
	return fmt.Sprintf("%s/%s!%d", identity.Namespace, identity.RepoName, identity.Number)
}

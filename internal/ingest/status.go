package ingest

import (
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/wapuda/tg-autosort/internal/sortq"
)

// StatusTable renders queue groups as a plain text table.
func StatusTable(groups []sortq.Group) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Series", "Season", "Episodes", "Files"})
	total := 0
	for _, g := range groups {
		eps := fmt.Sprintf("%02d", g.First)
		if g.Last != g.First {
			eps = fmt.Sprintf("%02d-%02d", g.First, g.Last)
		}
		tw.AppendRow(table.Row{g.Series, g.Season, eps, g.Count})
		total += g.Count
	}
	tw.AppendFooter(table.Row{"", "", "Total", total})
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

// StatusMessage is the HTML reply to /queue.
func StatusMessage(groups []sortq.Group, pending bool) string {
	n := 0
	for _, g := range groups {
		n += g.Count
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s queued\n", plural(n, "file"))
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(StatusTable(groups)))
	b.WriteString("</pre>")
	if pending {
		b.WriteString("\nA send is scheduled, or use /sendsorted now.")
	}
	return b.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

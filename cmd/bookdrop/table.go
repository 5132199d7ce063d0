package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns are right aligned;
// MaxWidth trims long cells such as file ids and share URLs.
type column struct {
	Title    string
	Numeric  bool
	MaxWidth int
}

var (
	stagingColumns = []column{{Title: "File"}, {Title: "Size", Numeric: true}, {Title: "Expires"}}
	handleColumns  = []column{{Title: "Book", Numeric: true}, {Title: "Format"}, {Title: "Handle", MaxWidth: 40}, {Title: "Updated"}}
	outcomeColumns = []column{{Title: "Field"}, {Title: "Value", MaxWidth: 80}}
)

func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.Title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if col.Numeric {
			configs[i].Align = text.AlignRight
		}
		if col.MaxWidth > 0 {
			configs[i].WidthMax = col.MaxWidth
			configs[i].WidthMaxEnforcer = text.Trim
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, cells := range rows {
		row := make(table.Row, len(columns))
		for i := range columns {
			if i < len(cells) {
				row[i] = cells[i]
			}
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}

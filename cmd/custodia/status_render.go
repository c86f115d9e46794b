package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"custodia/internal/custody"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// stageLabel renders a stage identifier for human output, e.g.
// awaiting_approval becomes "Awaiting Approval".
func stageLabel(stage custody.Stage) string {
	words := strings.ReplaceAll(string(stage), "_", " ")
	return cases.Title(language.Und).String(words)
}

func integrityLabel(status custody.IntegrityStatus) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(string(status), "_", " "))
}

func colorizeStage(stage custody.Stage, label string, colorize bool) string {
	if !colorize {
		return label
	}
	switch stage {
	case custody.StageCompleted:
		return ansiGreen + label + ansiReset
	case custody.StageError, custody.StageFailed, custody.StageRejected:
		return ansiRed + label + ansiReset
	case custody.StageAwaitingApproval, custody.StageCancelled:
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON prints v as indented JSON on the command's stdout. Used by the
// --json flags so output can be piped into jq.
func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// fieldTable renders the label/value pairs shown for a single workflow.
func fieldTable(rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row[0], row[1]})
	}
	return tw.Render()
}

// summaryTable renders one row per workflow. Columns named in numeric are
// right-aligned; their headers stay left-aligned like the rest.
func summaryTable(headers []string, rows [][]string, numeric ...string) string {
	right := make(map[string]bool, len(numeric))
	for _, name := range numeric {
		right[name] = true
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	var configs []table.ColumnConfig
	for i, name := range headers {
		header[i] = name
		if right[name] {
			configs = append(configs, table.ColumnConfig{
				Number:      i + 1,
				Align:       text.AlignRight,
				AlignHeader: text.AlignLeft,
			})
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		tw.AppendRow(cells)
	}
	return tw.Render()
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"

	"dealer-backlog/internal/data"
	"dealer-backlog/internal/jobs"
)

func printReport(w io.Writer, rep jobs.Report, withTrace bool) {
	if withTrace {
		for _, line := range rep.Trace {
			fmt.Fprintln(w, line)
		}
	}
	if rep.RunID == "" {
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Counter", "Value")
	table.Append([]string{"job", rep.Job})
	table.Append([]string{"run_id", rep.RunID})
	if rep.ImportRunID != 0 {
		table.Append([]string{"import_run_id", strconv.FormatUint(uint64(rep.ImportRunID), 10)})
	}
	for _, c := range rep.Counts {
		if lines, ok := c.Value.([]string); ok {
			for _, l := range lines {
				table.Append([]string{c.Name, truncateText(l, 100)})
			}
			continue
		}
		table.Append([]string{c.Name, jobs.FormatCount(c.Value)})
	}
	table.Append([]string{"duration", rep.Duration.String()})
	table.Render()
}

func printProbeTable(w io.Writer, results []data.ProbeResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "#", "Query", "Description", "Duration", "Rows", "Status")
	currentType := ""
	counter := 0
	for _, res := range results {
		if res.Type != currentType {
			currentType = res.Type
			counter = 0
		}
		counter++
		status := "OK"
		if res.Err != nil {
			status = "ERR: " + res.Err.Error()
		}
		table.Append([]string{
			res.Type,
			strconv.Itoa(counter),
			res.Name,
			truncateText(res.Description, 40),
			res.Duration.String(),
			strconv.FormatInt(res.RowCount, 10),
			status,
		})
	}
	table.Render()
}

func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}

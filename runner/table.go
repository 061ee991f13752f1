package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/Tpgainz/companyatlas/backend"
)

var statusHeader = []string{"BACKEND", "COUNTRY", "DATA", "DOCUMENTS", "EVENTS", "STATUS", "MISSING"}

// WriteStatusTable prints one row per backend. Columns are padded by display
// width, the last column is truncated to fit width.
func WriteStatusTable(w io.Writer, statuses []backend.Status, width int) error {
	rows := [][]string{statusHeader}

	for _, status := range statuses {
		desc := status.Descriptor
		missing := append(append([]string{}, status.MissingPackages...), status.MissingConfig...)

		rows = append(rows, []string{
			desc.Label(),
			desc.CountryCode,
			costCell(desc, backend.CapabilityData),
			costCell(desc, backend.CapabilityDocuments),
			costCell(desc, backend.CapabilityEvents),
			status.Status,
			strings.Join(missing, ", "),
		})
	}

	widths := make([]int, len(statusHeader))

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	if width <= 0 {
		width = terminalWidth()
	}

	used := 0
	for _, w := range widths[:len(widths)-1] {
		used += w + 2
	}

	lastWidth := max(width-used, len(statusHeader[len(statusHeader)-1]))

	for _, row := range rows {
		var line strings.Builder

		for i, cell := range row {
			if i == len(row)-1 {
				line.WriteString(runewidth.Truncate(cell, lastWidth, "…"))
				break
			}

			line.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}

		if _, err := fmt.Fprintln(w, strings.TrimRight(line.String(), " ")); err != nil {
			return err
		}
	}

	return nil
}

func costCell(desc backend.Descriptor, c backend.Capability) string {
	if !desc.Supports(c) {
		return "-"
	}

	cost, ok := desc.CostFor(c)
	if !ok {
		return "?"
	}

	return cost.String()
}

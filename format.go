package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// statusf writes a human confirmation line (login, logout, reauth) to stderr
// so stdout stays clean for listings.
func statusf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// Statusf is statusf with --quiet taken from the command's flags.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// formatTime renders a token expiry or update time in local time. The year
// is dropped when it is the current one. A zero time is a token with no
// expiry.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "no expiry"
	}

	t = t.Local()
	if t.Year() != time.Now().Year() {
		return t.Format("Jan _2  2006")
	}

	return t.Format("Jan _2 15:04")
}

// printTable writes the FIELD/VALUE block of `status`. Widths count runes,
// matching how fmt pads, so non-ASCII subjects stay aligned.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

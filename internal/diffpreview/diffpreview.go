// Package diffpreview renders a bounded, line-positional diff between two texts.
//
// The comparison is keyed by line index, not by content alignment: a line
// inserted near the top of a text shows every following line as a
// removed/added pair. Callers rely on that output shape, so it must not be
// swapped for a minimal edit script.
package diffpreview

import (
	"fmt"
	"strings"
)

const (
	// MaxRecords is the number of change records kept in a preview.
	MaxRecords = 25
	// NoChanges is rendered when two texts compare equal line by line.
	NoChanges = "No changes detected"
)

// Kind tells whether a record was added or removed.
type Kind int

const (
	Added Kind = iota
	Removed
)

// Record is a single changed line.
type Record struct {
	Kind Kind
	Line string
}

func (r Record) String() string {
	if r.Kind == Added {
		return "+ " + r.Line
	}
	return "- " + r.Line
}

// Summary is the result of comparing two texts.
type Summary struct {
	Added   int
	Removed int
	// Total is the number of records emitted before truncation.
	Total int
	// Records holds at most MaxRecords of the most recent records.
	Records []Record
}

// Compare walks both texts by line index and collects the change records.
func Compare(before, after string) Summary {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	var (
		summary Summary
		records []Record
	)

	for i := range max(len(beforeLines), len(afterLines)) {
		b := lineAt(beforeLines, i)
		a := lineAt(afterLines, i)
		if b == a {
			continue
		}

		switch {
		case b != "" && a == "":
			records = append(records, Record{Kind: Removed, Line: b})
			summary.Removed++
		case b == "" && a != "":
			records = append(records, Record{Kind: Added, Line: a})
			summary.Added++
		default:
			records = append(records,
				Record{Kind: Removed, Line: b},
				Record{Kind: Added, Line: a},
			)
			summary.Removed++
			summary.Added++
		}
	}

	summary.Total = len(records)
	if len(records) > MaxRecords {
		records = records[len(records)-MaxRecords:]
	}
	summary.Records = records

	return summary
}

// Render compares before and after and returns the preview text.
func Render(before, after string) string {
	return Compare(before, after).String()
}

// Header returns the "{n} additions, {m} deletions" summary line.
func (s Summary) Header() string {
	return fmt.Sprintf("%d additions, %d deletions", s.Added, s.Removed)
}

// Empty reports whether no records were emitted at all.
func (s Summary) Empty() bool {
	return s.Total == 0
}

func (s Summary) String() string {
	if s.Empty() {
		return NoChanges
	}

	var b strings.Builder
	b.WriteString(s.Header())
	for _, r := range s.Records {
		b.WriteString("\n")
		b.WriteString(r.String())
	}

	return b.String()
}

// lineAt treats an out-of-range index as an empty line.
func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

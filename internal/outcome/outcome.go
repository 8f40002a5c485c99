// Package outcome parses and validates the outcome section of call summaries.
//
// Summaries come from a free-text model, so parsing is line based and
// tolerant: bold markers, bullet styles and spacing may drift.
package outcome

import (
	"regexp"
	"strings"
)

// Tag is a customer-intent label from the closed outcome vocabulary.
type Tag string

const (
	CutOffDateProvided   Tag = "CUT_OFF_DATE_PROVIDED"
	InvoiceDetailsNeeded Tag = "INVOICE_DETAILS_NEEDED"
	LedgerNeeded         Tag = "LEDGER_NEEDED"
	HumanAgentNeeded     Tag = "HUMAN_AGENT_NEEDED"
	AlreadyPaid          Tag = "ALREADY_PAID"
	NoCommitment         Tag = "NO_COMMITMENT"
)

// Vocabulary lists every tag the summarizer may emit.
var Vocabulary = []Tag{
	CutOffDateProvided,
	InvoiceDetailsNeeded,
	LedgerNeeded,
	HumanAgentNeeded,
	AlreadyPaid,
	NoCommitment,
}

// Valid reports whether t is in Vocabulary.
func (t Tag) Valid() bool {
	for _, v := range Vocabulary {
		if v == t {
			return true
		}
	}
	return false
}

// Entry is one "- TAG: detail" line.
type Entry struct {
	Tag    Tag    `json:"tag"`
	Detail string `json:"detail,omitempty"`
}

// Parsed is the structured part of a summary.
type Parsed struct {
	ExtractedDate string  `json:"extracted_date,omitempty"`
	Entries       []Entry `json:"entries"`
}

// Has reports whether tag appears among the entries.
func (p Parsed) Has(tag Tag) bool {
	for _, e := range p.Entries {
		if e.Tag == tag {
			return true
		}
	}
	return false
}

// Tags returns entry tags in order.
func (p Parsed) Tags() []Tag {
	out := make([]Tag, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, e.Tag)
	}
	return out
}

const (
	sectionHeader = "CALL OUTCOMES"
	dateLabel     = "EXTRACTED_DATE"
)

var (
	entryRe    = regexp.MustCompile(`^[-*•]\s*\**([A-Z][A-Z_]+)\**\s*:?\s*(.*)$`)
	numberedRe = regexp.MustCompile(`^\d+\.`)
)

type entryLine struct {
	index int
	entry Entry
}

// scan finds outcome entry lines and the EXTRACTED_DATE line (-1 if absent).
// The outcome section runs from the CALL OUTCOMES header to the first
// numbered list item or next bold heading. Bullets with tags outside the
// vocabulary are skipped.
func scan(lines []string) (entries []entryLine, dateLine int) {
	dateLine = -1
	inSection := false
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		plain := strings.Trim(line, "*# ")
		if dateLine < 0 && strings.HasPrefix(plain, dateLabel) {
			dateLine = i
			continue
		}
		if strings.HasPrefix(strings.ToUpper(plain), sectionHeader) {
			inSection = true
			continue
		}
		if !inSection || line == "" {
			continue
		}
		if numberedRe.MatchString(line) {
			inSection = false
			continue
		}
		m := entryRe.FindStringSubmatch(line)
		if m == nil {
			if strings.HasPrefix(line, "**") || strings.HasPrefix(line, "===") {
				inSection = false
			}
			continue
		}
		if !Tag(m[1]).Valid() {
			continue
		}
		detail := strings.TrimSpace(strings.TrimLeft(m[2], "* "))
		entries = append(entries, entryLine{index: i, entry: Entry{Tag: Tag(m[1]), Detail: detail}})
	}
	return entries, dateLine
}

func dateValue(line string) string {
	_, after, ok := strings.Cut(line, dateLabel)
	if !ok {
		return ""
	}
	v := strings.Trim(after, "*: \t")
	return strings.TrimSpace(v)
}

// Parse extracts the outcome entries and extracted date from summary text.
func Parse(text string) Parsed {
	lines := strings.Split(text, "\n")
	found, dateLine := scan(lines)
	out := Parsed{Entries: make([]Entry, 0, len(found))}
	for _, e := range found {
		out.Entries = append(out.Entries, e.entry)
	}
	if dateLine >= 0 {
		out.ExtractedDate = dateValue(lines[dateLine])
	}
	return out
}

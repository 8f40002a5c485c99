package outcome

import (
	"strings"
	"time"
)

const (
	reasonNoDate        = "No specific payment date confirmed by customer"
	reasonInvoiceDate   = "Date mentioned was the invoice date, not a payment commitment"
	reasonDateFromEntry = "Extracted date taken from the payment commitment"

	isoLayout = "2006-01-02"
)

// Correction describes what Correct changed.
type Correction struct {
	Applied bool
	Reason  string
}

// Correct validates CUT_OFF_DATE_PROVIDED entries in summary text.
//
// An entry is replaced with NO_COMMITMENT when its detail carries no parseable
// date or the date equals the invoice date. When no entry survives, the
// EXTRACTED_DATE line is reset to NONE. When one does, an EXTRACTED_DATE line
// that is missing a date or repeats the invoice date is rewritten to the
// surviving entry's date. Text without the tag is returned unchanged.
func Correct(text, invoiceDate string) (string, Correction) {
	lines := strings.Split(text, "\n")
	entries, dateLine := scan(lines)

	invoice, haveInvoice := ExtractDate(invoiceDate)
	isInvoice := func(d time.Time) bool { return haveInvoice && SameDay(d, invoice) }

	hasNoCommitment := false
	for _, e := range entries {
		if e.entry.Tag == NoCommitment {
			hasNoCommitment = true
		}
	}

	drop := map[int]string{}
	cutOffs := 0
	var kept time.Time
	for _, e := range entries {
		if e.entry.Tag != CutOffDateProvided {
			continue
		}
		cutOffs++
		d, ok := ExtractDate(e.entry.Detail)
		switch {
		case !ok:
			drop[e.index] = reasonNoDate
		case isInvoice(d):
			drop[e.index] = reasonInvoiceDate
		case kept.IsZero():
			kept = d
		}
	}

	var dateFix, reason string
	if dateLine >= 0 && cutOffs > 0 {
		d, ok := ExtractDate(dateValue(lines[dateLine]))
		switch {
		case kept.IsZero():
			dateFix = "NONE"
		case ok && isInvoice(d):
			dateFix = kept.Format(isoLayout)
			reason = reasonInvoiceDate
		case !ok:
			dateFix = kept.Format(isoLayout)
			reason = reasonDateFromEntry
		}
	}
	if len(drop) == 0 && dateFix == "" {
		return text, Correction{}
	}

	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if i == dateLine && dateFix != "" {
			out = append(out, "**"+dateLabel+":** "+dateFix)
			continue
		}
		r, dropped := drop[i]
		if !dropped {
			out = append(out, line)
			continue
		}
		if reason == "" {
			reason = r
		}
		if !hasNoCommitment {
			out = append(out, "- "+string(NoCommitment)+": "+r)
			hasNoCommitment = true
		}
	}
	return strings.Join(out, "\n"), Correction{Applied: true, Reason: reason}
}

// CutOffDate returns the commitment date a summary carries, preferring the
// EXTRACTED_DATE line over the entry detail.
func CutOffDate(p Parsed) (time.Time, bool) {
	if !p.Has(CutOffDateProvided) {
		return time.Time{}, false
	}
	if d, ok := ExtractDate(p.ExtractedDate); ok {
		return d, true
	}
	for _, e := range p.Entries {
		if e.Tag == CutOffDateProvided {
			if d, ok := ExtractDate(e.Detail); ok {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

package summary

import (
	"fmt"
	"strings"
	"time"

	"reminder-voice/internal/outcome"
)

// India Standard Time. Fixed offset so the prompt date does not depend on
// the host tz database.
var ist = time.FixedZone("IST", 5*60*60+30*60)

const promptTemplate = `You are analysing a payment reminder phone call between an assistant and a customer.
The call took place on %s (%s). Resolve relative dates such as "tomorrow" or "next Friday" against this date.

Conversation:
%s

Respond in exactly this format:

**EXTRACTED_DATE:** YYYY-MM-DD or NONE

**CALL OUTCOMES:**
- TAG: short detail

1. **Customer Verified:** Yes/No and how
2. **Customer Response:** one or two sentences
3. **Commitments and Next Steps:** what was promised
4. **Overall Outcome:** Positive/Neutral/Negative
5. **Language:** language(s) used by the customer

Rules for CALL OUTCOMES:
- Use only these tags: %s.
- List every tag that applies, one per line. Use NO_COMMITMENT when nothing else applies.
- CUT_OFF_DATE_PROVIDED only when the customer states a specific payment date; write that date in the detail as "Month D, YYYY".
- Never use the invoice date as the payment date.`

// BuildPrompt renders the summarizer prompt from turn lines only.
func BuildPrompt(turns []string, callDate time.Time) string {
	d := callDate.In(ist)
	tags := make([]string, 0, len(outcome.Vocabulary))
	for _, t := range outcome.Vocabulary {
		tags = append(tags, string(t))
	}
	return fmt.Sprintf(promptTemplate,
		d.Format("January 2, 2006"),
		d.Format("Monday"),
		strings.Join(turns, "\n"),
		strings.Join(tags, ", "),
	)
}

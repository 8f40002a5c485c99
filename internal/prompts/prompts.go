// Package prompts builds the text a call's conversational pipeline is seeded
// with: the spoken greeting, the system prompt and the end-of-call policy.
package prompts

import (
	"encoding/json"
	"strings"
	"time"

	"reminder-voice/internal/calls"
)

const (
	agentName   = "Sara"
	companyName = "Hummingbird"

	// CommitmentReply is what the agent says once a payment date is given.
	CommitmentReply = "Great! Kindly release the payment as committed. Have a great day!"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

// Greeting is the opening line played before the live conversation starts.
func Greeting(d calls.CustomData) string {
	name := strings.TrimSpace(d.String(calls.KeyCustomerName))
	invoice := strings.TrimSpace(d.String(calls.KeyInvoiceNumber))

	var b strings.Builder
	b.WriteString("Hi")
	if name != "" {
		b.WriteString(" " + name)
	}
	b.WriteString(", this is " + agentName + " from " + companyName + ", calling regarding ")

	if invoice == "" || strings.EqualFold(invoice, "unknown") {
		b.WriteString("your outstanding invoice.")
		return b.String()
	}

	b.WriteString("an outstanding invoice " + spokenInvoice(invoice))
	if bal := strings.TrimSpace(d.String(calls.KeyOutstandingBalance)); bal != "" {
		b.WriteString(" for rupees " + SpokenAmount(bal))
	}
	if date := strings.TrimSpace(d.String(calls.KeyInvoiceDate)); date != "" {
		b.WriteString(", which was dated on " + date)
	}
	b.WriteString(". I wanted to check on the status of this payment.")
	return b.String()
}

func spokenInvoice(s string) string {
	return strings.NewReplacer("-", "", "/", "").Replace(s)
}

// SystemPrompt is the instruction block handed to the pipeline's language
// model. greeting is the line already played to the customer.
func SystemPrompt(d calls.CustomData, greeting string, now time.Time) string {
	var b strings.Builder

	b.WriteString("INTERNAL CONTEXT (DO NOT SAY THIS TO USER): Today is ")
	b.WriteString(now.In(ist).Format("Monday, January 02, 2006"))
	b.WriteString(" (India time). Use this to calculate dates.\n\n")

	b.WriteString("You are a friendly multilingual assistant " + agentName + " calling from " + companyName +
		" to remind customers about pending payments. The greeting has already been delivered. " +
		"Do NOT repeat the introduction. Start directly with verifying the customer or discussing the invoice.\n\n")

	b.WriteString("LANGUAGE RULES:\n" +
		"- Start in English and continue in English.\n" +
		"- Change language ONLY if the customer explicitly asks for it.\n" +
		"- After switching, speak ONLY in that language.\n" +
		"Supported languages: English, Tamil, Hindi, Telugu, Malayalam and Kannada.\n" +
		"Use everyday spoken forms of regional languages, not formal written forms.\n\n")

	b.WriteString("TEXT-TO-SPEECH RULES:\n" +
		"- Write every number as words.\n" +
		"- Spell out invoice numbers that contain letters.\n" +
		"- Say dates the way a person would, for example 'November fourteenth, two thousand twenty-four'.\n\n")

	if len(d) > 0 {
		if raw, err := json.MarshalIndent(d, "", "  "); err == nil {
			b.WriteString("CUSTOM CALL DATA:\n")
			b.Write(raw)
			b.WriteString("\n\nUse this custom data to personalize the conversation.\n\n")
		}
	}
	if greeting != "" {
		b.WriteString("IMPORTANT - GREETING ALREADY PLAYED: \"" + greeting + "\"\nDo NOT repeat this information.\n\n")
	}

	b.WriteString("DATE HANDLING:\n" +
		"When the customer mentions a payment date, remember it. Do NOT repeat the date back.\n\n")
	b.WriteString("CONFIRMATION RULES:\n" +
		"- Do NOT ask the customer to confirm a payment date.\n" +
		"- Reply immediately: '" + CommitmentReply + "'\n\n")
	b.WriteString("CALL ENDING RULES:\n" +
		"- If the customer says 'that's it', 'nothing else' or 'no', say 'Thank you, have a great day!'\n" +
		"- Ask 'Is there anything else' at most once.\n\n")
	b.WriteString("Your task is to remind about the payment and help resolve issues.\n" +
		"Be brief and direct. Get the payment date and end the call.")

	return b.String()
}

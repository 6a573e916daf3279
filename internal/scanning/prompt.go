package scanning

import (
	"strings"
)

// extractInstruction opens every extraction prompt
const extractInstruction = "Extract the amount, date, category, and description from the following receipt text and return as JSON:"

// buildExtractPrompt appends the raw OCR text untouched after the instruction
// and the reply format rules.
func buildExtractPrompt(rawText string) string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	var b strings.Builder
	b.WriteString(extractInstruction)
	b.WriteString(" Return ONLY a JSON object with exactly these keys:")
	b.WriteString(` "amount" (number, the final total paid, no currency symbol),`)
	b.WriteString(` "date" (string, YYYY-MM-DD),`)
	b.WriteString(` "category" (string, one of: ` + strings.Join(names, ", ") + `),`)
	b.WriteString(` "description" (string, merchant name and a few words about the purchase).`)
	b.WriteString(" If unsure of the category, use \"other\". Do not use markdown code blocks.\n")
	b.WriteString(rawText)
	return b.String()
}

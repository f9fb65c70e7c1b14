package entity

import (
	"fmt"
	"strings"
)

// promptRole pins the model into a cautious, educational register. It is
// folded into the single user message rather than sent as a separate system
// turn so the whole instruction travels as one prompt.
const promptRole = "You are an empathetic medical information assistant. " +
	"Provide educational, non-emergency guidance only, avoid any diagnostic certainty, " +
	"and remind users to consult licensed clinicians."

// BuildAnalysisPrompt assembles the instruction prompt for one analysis.
// Optional age, sex and duration become context lines when present.
func BuildAnalysisPrompt(symptoms string, age *int, sex, duration string) string {
	var b strings.Builder
	b.WriteString(promptRole)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Analyze these symptoms for educational purposes only: %q\n", symptoms)

	if age != nil {
		fmt.Fprintf(&b, "Patient age: %d\n", *age)
	}
	if s := strings.TrimSpace(sex); s != "" {
		fmt.Fprintf(&b, "Patient sex: %s\n", s)
	}
	if d := strings.TrimSpace(duration); d != "" {
		fmt.Fprintf(&b, "Symptom duration: %s\n", d)
	}

	b.WriteString(`
Provide a structured response with:
1. 2 to 5 possible conditions (common, non-emergency)
2. Recommended next steps (general advice)
3. An important disclaimer about consulting medical professionals

Format the response as valid JSON with these exact keys:
- "conditions" (array of strings, 2 to 5 items)
- "recommendations" (string)
- "disclaimer" (string)

Keep it educational, non-alarming, and emphasize this is not a medical diagnosis.

Return ONLY valid JSON, no other text or markdown.`)
	return b.String()
}

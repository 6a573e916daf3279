package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// parseExpenseContent decodes the model's reply. The reply must be a single
// JSON object; markdown code fences around it are the only tolerated noise.
func parseExpenseContent(content string) (*ExtractedExpense, error) {
	text := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(text, "```"); ok {
		// Drop the fence's language tag, whatever its case
		text = strings.TrimLeftFunc(rest, unicode.IsLetter)
	}
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty content")
	}

	if err := validateExpenseJSON([]byte(text)); err != nil {
		return nil, err
	}

	var data ExtractedExpense
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling expense: %w", err)
	}
	return &data, nil
}

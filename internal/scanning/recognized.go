package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OCR.space exit codes. 1 and 2 mean text was produced.
const (
	OCRExitParsed          = 1
	OCRExitPartiallyParsed = 2
	OCRExitFailed          = 3
	OCRExitFatal           = 4
)

// RecognizedText is the OCR.space parse response
type RecognizedText struct {
	ParsedResults                []ParsedResult `json:"ParsedResults"`
	OCRExitCode                  int            `json:"OCRExitCode"`
	IsErroredOnProcessing        bool           `json:"IsErroredOnProcessing"`
	ErrorMessage                 Messages       `json:"ErrorMessage,omitempty"`
	ErrorDetails                 string         `json:"ErrorDetails,omitempty"`
	ProcessingTimeInMilliseconds NumericText    `json:"ProcessingTimeInMilliseconds,omitempty"`
	SearchablePDFURL             string         `json:"SearchablePDFURL,omitempty"`
}

// ParsedResult is one candidate parse of the uploaded file
type ParsedResult struct {
	TextOverlay       *TextOverlay `json:"TextOverlay,omitempty"`
	FileParseExitCode int          `json:"FileParseExitCode"`
	ParsedText        string       `json:"ParsedText"`
	ErrorMessage      string       `json:"ErrorMessage,omitempty"`
	ErrorDetails      string       `json:"ErrorDetails,omitempty"`
}

// TextOverlay carries per-line geometry when the overlay was requested
type TextOverlay struct {
	Lines      []Line `json:"Lines"`
	HasOverlay bool   `json:"HasOverlay"`
	Message    string `json:"Message,omitempty"`
}

type Line struct {
	LineText  string  `json:"LineText"`
	Words     []Word  `json:"Words"`
	MaxHeight float64 `json:"MaxHeight"`
	MinTop    float64 `json:"MinTop"`
}

type Word struct {
	WordText string  `json:"WordText"`
	Left     float64 `json:"Left"`
	Top      float64 `json:"Top"`
	Height   float64 `json:"Height"`
	Width    float64 `json:"Width"`
}

// Messages accepts the provider's error message as a string, an array of
// strings or null.
type Messages []string

func (m *Messages) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*m = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decoding message list: %w", err)
		}
		*m = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if single == "" {
		*m = nil
		return nil
	}
	*m = Messages{single}
	return nil
}

func (m Messages) String() string {
	return strings.Join(m, "; ")
}

// NumericText holds a number the sender may encode as a JSON number or a
// string. The text is kept as sent; null and "" both decode to empty.
type NumericText string

func (n *NumericText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*n = ""
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding numeric text: %w", err)
		}
		*n = NumericText(strings.TrimSpace(s))
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("decoding numeric text: %w", err)
		}
		*n = NumericText(num)
	}
	return nil
}

func (n NumericText) String() string {
	return string(n)
}

// FirstText returns the first parse result's text exactly as the provider sent
// it. ok is false when the provider reported an error, the exit code is not a
// success code, there are no results or the first text is blank.
func (r *RecognizedText) FirstText() (string, bool) {
	if r == nil || r.IsErroredOnProcessing {
		return "", false
	}
	if r.OCRExitCode != OCRExitParsed && r.OCRExitCode != OCRExitPartiallyParsed {
		return "", false
	}
	if len(r.ParsedResults) == 0 {
		return "", false
	}
	text := r.ParsedResults[0].ParsedText
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// ProviderError collects the error texts the provider attached to the
// response, top level first.
func (r *RecognizedText) ProviderError() string {
	if r == nil {
		return ""
	}
	var parts []string
	parts = append(parts, r.ErrorMessage...)
	if r.ErrorDetails != "" {
		parts = append(parts, r.ErrorDetails)
	}
	for _, res := range r.ParsedResults {
		if res.ErrorMessage != "" {
			parts = append(parts, res.ErrorMessage)
		}
		if res.ErrorDetails != "" {
			parts = append(parts, res.ErrorDetails)
		}
	}
	return strings.Join(parts, "; ")
}

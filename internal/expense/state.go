package expense

import (
	"fmt"

	"github.com/zombor/expense-capture/internal/scanning"
)

// Status is the pipeline's position in idle → loading → succeeded|failed
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSucceeded
	StatusFailed
)

var statusNames = []string{"idle", "loading", "succeeded", "failed"}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Stage names the pipeline step a failure came from
type Stage string

const (
	StageOCR        Stage = "ocr"
	StageExtraction Stage = "extraction"
)

// Failure describes why a request ended in StatusFailed. Message is meant to
// be shown to the user as is.
type Failure struct {
	Stage   Stage         `json:"stage"`
	Kind    scanning.Kind `json:"kind"`
	Message string        `json:"message"`
}

// State is a snapshot of the pipeline. Expense is set only when Succeeded,
// Failure only when Failed.
type State struct {
	Status    Status                     `json:"status"`
	RequestID uint64                     `json:"request_id"`
	Text      string                     `json:"text,omitempty"`
	Expense   *scanning.ExtractedExpense `json:"expense,omitempty"`
	Failure   *Failure                   `json:"failure,omitempty"`
}

// Loading reports whether a request is in flight
func (s State) Loading() bool {
	return s.Status == StatusLoading
}

// Done reports whether the state holds a terminal result
func (s State) Done() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

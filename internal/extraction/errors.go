package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
)

// AttemptOutcome classifies one provider attempt.
type AttemptOutcome string

// Attempt outcomes.
const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeFailed      AttemptOutcome = "failed"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomeInvalid     AttemptOutcome = "invalid"
	OutcomeCircuitOpen AttemptOutcome = "circuit_open"
	OutcomeSkipped     AttemptOutcome = "skipped"
)

// Attempt records what happened when the pipeline reached a provider.
type Attempt struct {
	Err      error
	Provider string
	Outcome  AttemptOutcome
	Duration time.Duration
}

// ExhaustedError is returned when every provider failed or was skipped.
// It matches common.ErrExtractionExhausted with errors.Is.
type ExhaustedError struct {
	ContentHash string
	Attempts    []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		part := fmt.Sprintf("%s: %s", a.Provider, a.Outcome)
		if a.Err != nil {
			part += fmt.Sprintf(" (%v)", a.Err)
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%v for %s: no providers attempted", common.ErrExtractionExhausted, shortHash(e.ContentHash))
	}
	return fmt.Sprintf("%v for %s: %s", common.ErrExtractionExhausted, shortHash(e.ContentHash), strings.Join(parts, "; "))
}

// Is reports whether target is common.ErrExtractionExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == common.ErrExtractionExhausted
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

package domain

import (
	"fmt"
	"strings"
)

// Outcome is the closed set of results a binary market can settle to. All
// boundary input (HTTP payloads, database rows) is parsed into this type
// once; internal code never compares raw strings or booleans.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// ParseOutcome validates a raw boundary value and returns the corresponding
// Outcome. It accepts case-insensitive "yes"/"no" and returns
// ErrInvalidOutcome for anything else.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(OutcomeYes):
		return OutcomeYes, nil
	case string(OutcomeNo):
		return OutcomeNo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
	}
}

// Valid reports whether o is one of the two defined variants.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

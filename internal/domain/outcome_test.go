package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	cases := []struct {
		raw  string
		want Outcome
	}{
		{"yes", OutcomeYes},
		{"YES", OutcomeYes},
		{"  Yes ", OutcomeYes},
		{"no", OutcomeNo},
		{"NO", OutcomeNo},
		{"\tnO\n", OutcomeNo},
	}
	for _, tc := range cases {
		got, err := ParseOutcome(tc.raw)
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.want, got, "raw %q", tc.raw)
	}
}

func TestParseOutcome_Rejects(t *testing.T) {
	for _, raw := range []string{"", "maybe", "y", "true", "1"} {
		_, err := ParseOutcome(raw)
		assert.ErrorIs(t, err, ErrInvalidOutcome, "raw %q", raw)
	}
}

func TestOutcomeOpposite(t *testing.T) {
	assert.Equal(t, OutcomeNo, OutcomeYes.Opposite())
	assert.Equal(t, OutcomeYes, OutcomeNo.Opposite())
}

func TestOutcomeValid(t *testing.T) {
	assert.True(t, OutcomeYes.Valid())
	assert.True(t, OutcomeNo.Valid())
	assert.False(t, Outcome("maybe").Valid())
	assert.False(t, Outcome("").Valid())
}

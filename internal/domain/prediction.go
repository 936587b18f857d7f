package domain

import "time"

// PredictionState tracks a prediction through its lifecycle. The only legal
// transitions are Open → ResolvedCorrect|ResolvedIncorrect → Settled;
// Settled is terminal.
type PredictionState string

const (
	PredictionOpen              PredictionState = "open"
	PredictionResolvedCorrect   PredictionState = "resolved_correct"
	PredictionResolvedIncorrect PredictionState = "resolved_incorrect"
	PredictionSettled           PredictionState = "settled"
)

// Prediction is a user's staked position on a market outcome. AwardedPoints
// is set when the points phase of settlement commits; AwardedXP stays nil
// ("pending") until the scoring collaborator responds, which may be long
// after the points phase.
type Prediction struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	MarketID         string          `json:"market_id"`
	Outcome          Outcome         `json:"outcome"`
	Stake            float64         `json:"stake"`
	Shares           float64         `json:"shares"`
	EntryPrice       float64         `json:"entry_price"`
	FundedFromBuffer bool            `json:"funded_from_buffer"`
	State            PredictionState `json:"state"`
	AwardedPoints    *float64        `json:"awarded_points,omitempty"`
	AwardedXP        *int64          `json:"awarded_xp,omitempty"`
	PlacedAt         time.Time       `json:"placed_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
}

// Resolved reports whether the points phase of settlement has committed.
func (p Prediction) Resolved() bool {
	return p.State != PredictionOpen
}

// Correct reports whether the prediction matched the resolved outcome. Only
// meaningful after resolution.
func (p Prediction) Correct() bool {
	return p.State == PredictionResolvedCorrect ||
		(p.State == PredictionSettled && p.AwardedPoints != nil && *p.AwardedPoints > 0)
}

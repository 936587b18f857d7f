package domain

import "context"

// Scorer is the external experience-scoring collaborator. Calls may be slow
// or fail; settlement treats them as best-effort and retryable, and they must
// never run inside a market lock.
type Scorer interface {
	AwardPredictionXP(ctx context.Context, userID string, p Prediction) (int64, error)
}

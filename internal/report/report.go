// Package report builds settlement reports and archives them to
// S3-compatible object storage. Each report carries a Keccak-256 anchor hash
// of its canonical JSON encoding so an archived copy can be checked for
// tampering later.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/civicpulse/marketd/internal/domain"
)

// Entry is one settled prediction in a report.
type Entry struct {
	PredictionID  string  `json:"prediction_id"`
	UserID        string  `json:"user_id"`
	Outcome       string  `json:"outcome"`
	Stake         float64 `json:"stake"`
	Shares        float64 `json:"shares"`
	EntryPrice    float64 `json:"entry_price"`
	BufferFunded  bool    `json:"buffer_funded"`
	Correct       bool    `json:"correct"`
	AwardedPoints float64 `json:"awarded_points"`
}

// SettlementReport is the archived record of one market resolution.
type SettlementReport struct {
	MarketID    string    `json:"market_id"`
	Question    string    `json:"question"`
	Outcome     string    `json:"outcome"`
	ResolvedAt  time.Time `json:"resolved_at"`
	Entries     []Entry   `json:"entries"`
	TotalStaked float64   `json:"total_staked"`
	TotalPayout float64   `json:"total_payout"`
	GeneratedAt time.Time `json:"generated_at"`

	// AnchorHash is the hex Keccak-256 of the report encoded without this
	// field. Verify by re-encoding with AnchorHash cleared.
	AnchorHash string `json:"anchor_hash,omitempty"`
}

// Build assembles a report from a resolved market and its settled
// predictions, computing the anchor hash last.
func Build(market domain.Market, settled []domain.Prediction, now time.Time) (SettlementReport, error) {
	if !market.Resolved || market.ResolvedOutcome == nil {
		return SettlementReport{}, fmt.Errorf("report: market %s: %w", market.ID, domain.ErrMarketNotResolved)
	}

	r := SettlementReport{
		MarketID:    market.ID,
		Question:    market.Question,
		Outcome:     string(*market.ResolvedOutcome),
		GeneratedAt: now.UTC(),
	}
	if market.ResolvedAt != nil {
		r.ResolvedAt = market.ResolvedAt.UTC()
	}

	for _, p := range settled {
		e := Entry{
			PredictionID: p.ID,
			UserID:       p.UserID,
			Outcome:      string(p.Outcome),
			Stake:        p.Stake,
			Shares:       p.Shares,
			EntryPrice:   p.EntryPrice,
			BufferFunded: p.FundedFromBuffer,
			Correct:      p.Outcome == *market.ResolvedOutcome,
		}
		if p.AwardedPoints != nil {
			e.AwardedPoints = *p.AwardedPoints
		}
		r.Entries = append(r.Entries, e)
		r.TotalStaked += p.Stake
		r.TotalPayout += e.AwardedPoints
	}

	hash, err := anchorHash(r)
	if err != nil {
		return SettlementReport{}, err
	}
	r.AnchorHash = hash
	return r, nil
}

// Verify recomputes the anchor hash and reports whether it matches.
func Verify(r SettlementReport) (bool, error) {
	want := r.AnchorHash
	hash, err := anchorHash(r)
	if err != nil {
		return false, err
	}
	return hash == want, nil
}

func anchorHash(r SettlementReport) (string, error) {
	r.AnchorHash = ""
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("report: marshal for anchor: %w", err)
	}
	return hex.EncodeToString(crypto.Keccak256(data)), nil
}

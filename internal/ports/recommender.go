package ports

import (
	"context"

	"github.com/adelgado/ablab/internal/domain"
)

// Recommendation is prose plus an action list derived from a result.
type Recommendation struct {
	Summary string
	Actions []string
}

// Recommender turns a structured result into human-readable advice. The engine
// falls back to a deterministic built-in table when the collaborator is
// unavailable or fails.
type Recommender interface {
	Recommend(ctx context.Context, tier domain.Tier, projectedLift float64, winnerID string) (Recommendation, error)
}

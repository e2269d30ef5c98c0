package ports

import (
	"context"

	"github.com/adelgado/ablab/internal/domain"
)

// ExperimentStore persists experiment snapshots. Durability and transactions
// are the store's responsibility; the engine calls it outside its critical
// sections and never blocks event recording on it.
type ExperimentStore interface {
	// SaveExperiment upserts the current snapshot of an experiment.
	SaveExperiment(ctx context.Context, rec domain.ExperimentRecord) error

	// AppendHistory appends a terminal experiment to the history sink.
	AppendHistory(ctx context.Context, rec domain.ExperimentRecord, reason string) error

	// GetExperiment loads one experiment snapshot by id.
	GetExperiment(ctx context.Context, id string) (domain.ExperimentRecord, error)

	// ListByOwner returns all stored snapshots for an owner, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.ExperimentRecord, error)

	// Close releases the underlying connection.
	Close() error
}

package store

import (
	"context"
	"errors"

	"github.com/reqgraph/backend/pkg/common"
)

var (
	// ErrNotFound is returned by record lookups that match nothing.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidArgument is returned before the store is touched.
	ErrInvalidArgument = errors.New("invalid argument")
)

// GraphStorage is the derived property-graph index of the requirements.
//
// Implementations decide once, at construction, whether the graph service is
// available. When it is not, every method returns its degraded value
// (ImportRequirement: the requirement's own id; queries: an empty slice)
// with a nil error.
type GraphStorage interface {
	Available() bool

	ImportRequirement(ctx context.Context, req common.Requirement, projectID string) (string, error)

	FindDuplicates(ctx context.Context, req common.Requirement, threshold float64, limit int) ([]common.DuplicateCandidate, error)
	FindConflicts(ctx context.Context, requirementID string, limit int) ([]common.ConflictCandidate, error)
	GetRelatedRequirements(ctx context.Context, requirementID string, maxDepth int, limit int) ([]common.RelatedRequirement, error)

	Close(ctx context.Context) error
}

// RecordStorage is the slice of the primary store the sync layer consumes.
type RecordStorage interface {
	GetRequirement(ctx context.Context, id string) (common.Requirement, error)
	ListProjectRequirements(ctx context.Context, projectID string) ([]common.Requirement, error)
	ListUnsyncedRequirements(ctx context.Context, projectID string) ([]common.Requirement, error)

	UpsertSyncStatus(ctx context.Context, status common.SyncStatus) error
	GetSyncStatus(ctx context.Context, requirementID string) (common.SyncStatus, error)
}

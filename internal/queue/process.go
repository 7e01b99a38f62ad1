package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
)

var (
	// ErrSyncFailed marks a message whose work did not go through and
	// should be retried.
	ErrSyncFailed = errors.New("graph sync failed")
	// ErrPermanent marks a message that can never succeed; it goes straight
	// to the dead-letter queue.
	ErrPermanent = errors.New("permanent message failure")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

func permanent(err error) error { return &permanentError{err: err} }

// Syncer is implemented by *graphsync.Manager.
type Syncer interface {
	SyncOne(ctx context.Context, req common.Requirement, projectID string) bool
	SyncByID(ctx context.Context, id string) (bool, error)
	BatchSync(ctx context.Context, projectID string) common.BatchResult
	Reconcile(ctx context.Context, projectID string) common.BatchResult
}

// ReportArchiver stores the result of a batch run.
type ReportArchiver interface {
	PutReport(ctx context.Context, correlationID string, result common.BatchResult) (string, error)
}

func ProcessSyncMessage(ctx context.Context, syncer Syncer, body []byte) error {
	msg, err := decodeSyncMsg(body)
	if err != nil {
		return err
	}
	logger.Info("[Queue][Sync] Processing", "id", msg.RequirementID, "correlation_id", msg.CorrelationID)

	var ok bool
	if msg.Requirement != nil {
		projectID := msg.ProjectID
		if projectID == "" {
			projectID = msg.Requirement.ProjectID
		}
		ok = syncer.SyncOne(ctx, *msg.Requirement, projectID)
	} else {
		ok, err = syncer.SyncByID(ctx, msg.RequirementID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidArgument) {
				return permanent(err)
			}
			return fmt.Errorf("load requirement %s: %w", msg.RequirementID, err)
		}
	}
	if !ok {
		return fmt.Errorf("requirement %s: %w", msg.RequirementID, ErrSyncFailed)
	}
	return nil
}

// ProcessBatchSyncMessage runs a batch and archives its report. Individual
// record failures are part of the report; only a batch that could not run
// is retried.
func ProcessBatchSyncMessage(ctx context.Context, syncer Syncer, archive ReportArchiver, body []byte) error {
	msg, err := decodeBatchMsg(body)
	if err != nil {
		return err
	}
	logger.Info("[Queue][BatchSync] Processing", "project", msg.ProjectID, "reconcile", msg.Reconcile, "correlation_id", msg.CorrelationID)

	var result common.BatchResult
	if msg.Reconcile {
		result = syncer.Reconcile(ctx, msg.ProjectID)
	} else {
		result = syncer.BatchSync(ctx, msg.ProjectID)
	}

	if archive != nil {
		key, err := archive.PutReport(ctx, msg.CorrelationID, result)
		if err != nil {
			logger.Warn("[Queue][BatchSync] Could not archive report", "project", msg.ProjectID, "err", err)
		} else {
			logger.Debug("[Queue][BatchSync] Report archived", "key", key)
		}
	}

	if !result.Success {
		return fmt.Errorf("project %s: %s: %w", msg.ProjectID, result.Error, ErrSyncFailed)
	}
	return nil
}

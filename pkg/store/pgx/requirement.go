package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
)

const requirementColumns = `
r.id, r.project_id, r.identifier, r.name, r.shall, r.category, r.priority,
r.status, r.description, r.entities, r.dependencies, r.created_at, r.updated_at`

const getRequirementSQL = `
SELECT` + requirementColumns + `
FROM requirements r
WHERE r.id = $1;
`

const listProjectRequirementsSQL = `
SELECT` + requirementColumns + `
FROM requirements r
WHERE r.project_id = $1
ORDER BY r.id;
`

const listUnsyncedRequirementsSQL = `
SELECT` + requirementColumns + `
FROM requirements r
LEFT JOIN requirement_sync_status s ON s.requirement_id = r.id
WHERE r.project_id = $1
  AND (
    s.requirement_id IS NULL
    OR NOT s.synced_to_graph
    OR s.synced_at IS NULL
    OR r.updated_at > s.synced_at
    OR ($2::bigint > 0 AND s.synced_at < now() - ($2::bigint * interval '1 second'))
  )
ORDER BY r.id;
`

func scanRequirement(row pgxv5.Row) (common.Requirement, error) {
	var (
		req          common.Requirement
		entitiesJSON []byte
		dependencies []string
	)
	err := row.Scan(
		&req.ID,
		&req.ProjectID,
		&req.Identifier,
		&req.Name,
		&req.Statement,
		&req.Category,
		&req.Priority,
		&req.Status,
		&req.Description,
		&entitiesJSON,
		&dependencies,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return common.Requirement{}, err
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &req.Entities); err != nil {
			return common.Requirement{}, fmt.Errorf("decode entities of %s: %w", req.ID, err)
		}
	}
	req.Dependencies = dependencies
	return req, nil
}

// GetRequirement loads one record, returning store.ErrNotFound when the id
// is unknown.
func (s *RequirementDBStorage) GetRequirement(ctx context.Context, id string) (common.Requirement, error) {
	if id == "" {
		return common.Requirement{}, fmt.Errorf("%w: empty requirement id", store.ErrInvalidArgument)
	}
	req, err := scanRequirement(s.conn.QueryRow(ctx, getRequirementSQL, id))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.Requirement{}, fmt.Errorf("requirement %s: %w", id, store.ErrNotFound)
		}
		return common.Requirement{}, err
	}
	return req, nil
}

func (s *RequirementDBStorage) ListProjectRequirements(ctx context.Context, projectID string) ([]common.Requirement, error) {
	return s.list(ctx, "ListProjectRequirements", listProjectRequirementsSQL, projectID)
}

// ListUnsyncedRequirements returns the records of a project that have no
// sync row, a failed one, or one older than the record's last update.
func (s *RequirementDBStorage) ListUnsyncedRequirements(ctx context.Context, projectID string) ([]common.Requirement, error) {
	return s.list(ctx, "ListUnsyncedRequirements", listUnsyncedRequirementsSQL, projectID, s.staleAfter)
}

func (s *RequirementDBStorage) list(ctx context.Context, op, sql, projectID string, args ...any) ([]common.Requirement, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: empty project id", store.ErrInvalidArgument)
	}
	rows, err := s.conn.Query(ctx, sql, append([]any{projectID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Requirement, 0)
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger.Debug(fmt.Sprintf("[Records][%s] Loaded requirements", op), "project", projectID, "count", len(out))
	return out, nil
}

const upsertSyncStatusSQL = `
INSERT INTO requirement_sync_status (requirement_id, synced_to_graph, synced_at, graph_node_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (requirement_id) DO UPDATE
SET synced_to_graph = EXCLUDED.synced_to_graph,
    synced_at       = EXCLUDED.synced_at,
    graph_node_id   = EXCLUDED.graph_node_id;
`

const getSyncStatusSQL = `
SELECT requirement_id, synced_to_graph, synced_at, graph_node_id
FROM requirement_sync_status
WHERE requirement_id = $1;
`

func (s *RequirementDBStorage) UpsertSyncStatus(ctx context.Context, status common.SyncStatus) error {
	if status.RequirementID == "" {
		return fmt.Errorf("%w: empty requirement id", store.ErrInvalidArgument)
	}
	var syncedAt *time.Time
	if !status.SyncedAt.IsZero() {
		syncedAt = &status.SyncedAt
	}
	_, err := s.conn.Exec(ctx, upsertSyncStatusSQL, status.RequirementID, status.Synced, syncedAt, status.GraphNodeID)
	return err
}

// GetSyncStatus returns store.ErrNotFound when the requirement was never
// recorded as synced.
func (s *RequirementDBStorage) GetSyncStatus(ctx context.Context, requirementID string) (common.SyncStatus, error) {
	if requirementID == "" {
		return common.SyncStatus{}, fmt.Errorf("%w: empty requirement id", store.ErrInvalidArgument)
	}
	var (
		status   common.SyncStatus
		syncedAt *time.Time
	)
	err := s.conn.QueryRow(ctx, getSyncStatusSQL, requirementID).Scan(
		&status.RequirementID,
		&status.Synced,
		&syncedAt,
		&status.GraphNodeID,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.SyncStatus{}, fmt.Errorf("sync status %s: %w", requirementID, store.ErrNotFound)
		}
		return common.SyncStatus{}, err
	}
	if syncedAt != nil {
		status.SyncedAt = *syncedAt
	}
	return status, nil
}

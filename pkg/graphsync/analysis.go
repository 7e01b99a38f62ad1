package graphsync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/logger"
)

// Analyze gathers related requirements, duplicate candidates and conflict
// candidates for one requirement. It returns false only when the graph is
// unavailable; a failing lookup leaves its list empty.
func (m *Manager) Analyze(ctx context.Context, id string) (*common.Analysis, bool) {
	if !m.graph.Available() {
		return nil, false
	}

	req := common.Requirement{ID: id}
	if m.records != nil {
		loaded, err := m.records.GetRequirement(ctx, id)
		if err != nil {
			logger.Warn("[Sync][Analyze] Could not load requirement, skipping duplicate search", "id", id, "err", err)
		} else {
			req = loaded
		}
	}

	analysis := &common.Analysis{
		RequirementID: id,
		Related:       []common.RelatedRequirement{},
		Duplicates:    []common.DuplicateCandidate{},
		Conflicts:     []common.ConflictCandidate{},
	}

	var g errgroup.Group
	g.Go(func() error {
		related, err := m.graph.GetRelatedRequirements(ctx, id, analysisRelatedDepth, analysisRelatedLimit)
		if err != nil {
			logger.Warn("[Sync][Analyze] Related lookup failed", "id", id, "err", err)
			return nil
		}
		analysis.Related = related
		return nil
	})
	g.Go(func() error {
		if req.SearchText() == "" {
			return nil
		}
		duplicates, err := m.graph.FindDuplicates(ctx, req, m.threshold, analysisDuplicateLimit)
		if err != nil {
			logger.Warn("[Sync][Analyze] Duplicate lookup failed", "id", id, "err", err)
			return nil
		}
		analysis.Duplicates = duplicates
		return nil
	})
	g.Go(func() error {
		conflicts, err := m.graph.FindConflicts(ctx, id, analysisConflictLimit)
		if err != nil {
			logger.Warn("[Sync][Analyze] Conflict lookup failed", "id", id, "err", err)
			return nil
		}
		analysis.Conflicts = conflicts
		return nil
	})
	_ = g.Wait()

	return analysis, true
}

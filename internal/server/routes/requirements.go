package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/internal/queue"
	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/store/neo4j"
)

type syncResponse struct {
	RequirementID string `json:"requirement_id"`
	Synced        bool   `json:"synced"`
	Queued        bool   `json:"queued,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SyncRequirementHandler pushes one requirement into the graph. With
// ?async=true the work is queued for the worker instead.
func SyncRequirementHandler(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if c.QueryParam("async") == "true" {
		body, err := json.Marshal(queue.SyncRequirementMsg{
			CorrelationID: correlationID(c),
			RequirementID: id,
		})
		if err != nil {
			return storeError(c, "SyncRequirement", err)
		}
		if err := app(c).Publish(ctx, queue.SyncQueue, correlationID(c), body); err != nil {
			return storeError(c, "SyncRequirement", err)
		}
		return c.JSON(http.StatusAccepted, syncResponse{RequirementID: id, Queued: true, CorrelationID: correlationID(c)})
	}

	ok, err := app(c).Sync.SyncByID(ctx, id)
	if err != nil {
		return storeError(c, "SyncRequirement", err)
	}
	return c.JSON(http.StatusOK, syncResponse{RequirementID: id, Synced: ok})
}

func GetRequirementStatusHandler(c echo.Context) error {
	status, err := app(c).Sync.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(c, "GetRequirementStatus", err)
	}
	return c.JSON(http.StatusOK, status)
}

func GetRequirementAnalysisHandler(c echo.Context) error {
	analysis, ok := app(c).Sync.Analyze(c.Request().Context(), c.Param("id"))
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Graph database unavailable"})
	}
	return c.JSON(http.StatusOK, analysis)
}

type conflictsResponse struct {
	RequirementID  string                     `json:"requirement_id"`
	GraphAvailable bool                       `json:"graph_available"`
	Conflicts      []common.ConflictCandidate `json:"conflicts"`
}

func GetRequirementConflictsHandler(c echo.Context) error {
	limit, err := queryInt(c, "limit", neo4j.DefaultConflictLimit)
	if err != nil {
		return storeError(c, "GetRequirementConflicts", err)
	}
	graph := app(c).Graph
	available := graph.Available()
	conflicts, err := graph.FindConflicts(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		if !graphDown(c, "GetRequirementConflicts", err) {
			return storeError(c, "GetRequirementConflicts", err)
		}
		conflicts, available = []common.ConflictCandidate{}, false
	}
	return c.JSON(http.StatusOK, conflictsResponse{
		RequirementID:  c.Param("id"),
		GraphAvailable: available,
		Conflicts:      conflicts,
	})
}

type relatedResponse struct {
	RequirementID  string                      `json:"requirement_id"`
	GraphAvailable bool                        `json:"graph_available"`
	Depth          int                         `json:"depth"`
	Related        []common.RelatedRequirement `json:"related_requirements"`
}

func GetRelatedRequirementsHandler(c echo.Context) error {
	depth, err := queryInt(c, "depth", neo4j.DefaultRelatedDepth)
	if err != nil {
		return storeError(c, "GetRelatedRequirements", err)
	}
	limit, err := queryInt(c, "limit", neo4j.DefaultRelatedLimit)
	if err != nil {
		return storeError(c, "GetRelatedRequirements", err)
	}
	graph := app(c).Graph
	available := graph.Available()
	related, err := graph.GetRelatedRequirements(c.Request().Context(), c.Param("id"), depth, limit)
	if err != nil {
		if !graphDown(c, "GetRelatedRequirements", err) {
			return storeError(c, "GetRelatedRequirements", err)
		}
		related, available = []common.RelatedRequirement{}, false
	}
	return c.JSON(http.StatusOK, relatedResponse{
		RequirementID:  c.Param("id"),
		GraphAvailable: available,
		Depth:          depth,
		Related:        related,
	})
}

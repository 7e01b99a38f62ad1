package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/internal/queue"
)

// SyncProjectHandler queues a batch sync of a project. ?reconcile=true
// limits it to records that are missing or stale in the graph.
func SyncProjectHandler(c echo.Context) error {
	type syncProjectResponse struct {
		Message       string `json:"message"`
		ProjectID     string `json:"project_id"`
		Reconcile     bool   `json:"reconcile"`
		CorrelationID string `json:"correlation_id"`
	}

	projectID := c.Param("id")
	reconcile := c.QueryParam("reconcile") == "true"

	body, err := json.Marshal(queue.BatchSyncMsg{
		CorrelationID: correlationID(c),
		ProjectID:     projectID,
		Reconcile:     reconcile,
	})
	if err != nil {
		return storeError(c, "SyncProject", err)
	}
	if err := app(c).Publish(c.Request().Context(), queue.BatchSyncQueue, correlationID(c), body); err != nil {
		return storeError(c, "SyncProject", err)
	}

	return c.JSON(http.StatusAccepted, syncProjectResponse{
		Message:       "Batch sync queued",
		ProjectID:     projectID,
		Reconcile:     reconcile,
		CorrelationID: correlationID(c),
	})
}

package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/store/neo4j"
)

// FindDuplicatesHandler searches for requirements resembling a draft that
// may not be stored yet.
func FindDuplicatesHandler(c echo.Context) error {
	type duplicatesBody struct {
		ID        string   `json:"id" validate:"max=128"`
		Name      string   `json:"name" validate:"max=1000"`
		Statement string   `json:"shall" validate:"required,max=10000"`
		Threshold *float64 `json:"threshold" validate:"omitempty,gte=0"`
		Limit     int      `json:"limit" validate:"gte=0,lte=100"`
	}

	type duplicatesResponse struct {
		GraphAvailable bool                        `json:"graph_available"`
		Duplicates     []common.DuplicateCandidate `json:"duplicates"`
	}

	data := new(duplicatesBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	threshold := neo4j.DefaultDuplicateThreshold
	if data.Threshold != nil {
		threshold = *data.Threshold
	}

	graph := app(c).Graph
	req := common.Requirement{ID: data.ID, Name: data.Name, Statement: data.Statement}
	available := graph.Available()
	duplicates, err := graph.FindDuplicates(c.Request().Context(), req, threshold, data.Limit)
	if err != nil {
		if !graphDown(c, "FindDuplicates", err) {
			return storeError(c, "FindDuplicates", err)
		}
		duplicates, available = []common.DuplicateCandidate{}, false
	}
	return c.JSON(http.StatusOK, duplicatesResponse{
		GraphAvailable: available,
		Duplicates:     duplicates,
	})
}

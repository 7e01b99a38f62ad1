package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/internal/server/middleware"
	"github.com/reqgraph/backend/pkg/backoff"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
	"github.com/reqgraph/backend/pkg/store/neo4j"
)

type errorResponse struct {
	Error string `json:"error"`
}

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

func correlationID(c echo.Context) string {
	return c.(*middleware.AppContext).CorrelationID
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", store.ErrInvalidArgument, name)
	}
	return v, nil
}

// storeError maps store sentinels onto status codes and hides everything
// else behind a 500.
func storeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
	case errors.Is(err, store.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger.Error(fmt.Sprintf("[Server][%s] Request failed", op), "correlation_id", correlationID(c), "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

// graphDown reports whether a graph query failed because the graph service
// itself is failing. Such reads answer with an empty result.
func graphDown(c echo.Context, op string, err error) bool {
	if !errors.Is(err, backoff.ErrRetriesExhausted) && !errors.Is(err, neo4j.ErrGraphOperation) {
		return false
	}
	logger.Warn(fmt.Sprintf("[Server][%s] Graph query failed, returning empty result", op), "correlation_id", correlationID(c), "err", err)
	return true
}

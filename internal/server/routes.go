package server

import (
	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/internal/server/middleware"
	"github.com/reqgraph/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Requirement routes
	apiRoutes.POST("/requirements/:id/sync", routes.SyncRequirementHandler, middleware.RequirePermission(middleware.PermRequirementSync))
	apiRoutes.GET("/requirements/:id/status", routes.GetRequirementStatusHandler, middleware.RequirePermission(middleware.PermRequirementRead))
	apiRoutes.GET("/requirements/:id/analysis", routes.GetRequirementAnalysisHandler, middleware.RequirePermission(middleware.PermRequirementRead))
	apiRoutes.GET("/requirements/:id/conflicts", routes.GetRequirementConflictsHandler, middleware.RequirePermission(middleware.PermRequirementRead))
	apiRoutes.GET("/requirements/:id/related", routes.GetRelatedRequirementsHandler, middleware.RequirePermission(middleware.PermRequirementRead))
	apiRoutes.POST("/duplicates", routes.FindDuplicatesHandler, middleware.RequirePermission(middleware.PermRequirementRead))

	// Project routes
	apiRoutes.POST("/projects/:id/sync", routes.SyncProjectHandler, middleware.RequirePermission(middleware.PermProjectSync))

	// Graph routes
	apiRoutes.GET("/graph/health", routes.GetGraphHealthHandler, middleware.RequirePermission(middleware.PermGraphHealth))
}

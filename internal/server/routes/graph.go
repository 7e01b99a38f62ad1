package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetGraphHealthHandler(c echo.Context) error {
	a := app(c)
	if a.Health == nil {
		return c.JSON(http.StatusOK, map[string]bool{"available": a.Graph.Available()})
	}
	return c.JSON(http.StatusOK, a.Health(c.Request().Context()))
}

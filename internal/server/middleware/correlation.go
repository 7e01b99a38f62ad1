package middleware

import (
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const CorrelationHeader = "X-Correlation-ID"

// CorrelationMiddleware reuses the caller's correlation id or mints one,
// and echoes it on the response. Must run after AppContextMiddleware.
func CorrelationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(CorrelationHeader)
		if id == "" || len(id) > 128 {
			generated, err := gonanoid.New()
			if err != nil {
				return err
			}
			id = generated
		}
		if cc, ok := c.(*AppContext); ok {
			cc.CorrelationID = id
		}
		c.Response().Header().Set(CorrelationHeader, id)
		return next(c)
	}
}

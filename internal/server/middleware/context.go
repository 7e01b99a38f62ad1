package middleware

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/store"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// SyncService is implemented by *graphsync.Manager.
type SyncService interface {
	SyncByID(ctx context.Context, id string) (bool, error)
	Status(ctx context.Context, id string) (common.SyncStatus, error)
	Analyze(ctx context.Context, id string) (*common.Analysis, bool)
}

// Publisher enqueues a message body on a named queue.
type Publisher func(ctx context.Context, queueName, correlationID string, body []byte) error

type App struct {
	Sync    SyncService
	Graph   store.GraphStorage
	Health  func(ctx context.Context) any
	Publish Publisher

	// KeyFunc verifies JWT signatures, usually keyfunc's JWKS lookup.
	KeyFunc jwt.Keyfunc

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App           *App
	User          *AppUser
	CorrelationID string
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{Context: c, App: app}
			return next(cc)
		}
	}
}

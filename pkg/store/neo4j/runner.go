package neo4j

import (
	"context"
	"fmt"
	"time"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type statement struct {
	cypher string
	params map[string]any
}

// cypherRunner is the part of the driver the storage needs. It keeps the
// retry policy in one place: reads run as auto-commit queries and writes as
// a single explicit transaction, so the driver never retries on its own.
type cypherRunner interface {
	read(ctx context.Context, cypher string, params map[string]any) ([]*neo4jv5.Record, error)
	write(ctx context.Context, stmts ...statement) error
	verify(ctx context.Context) error
	close(ctx context.Context) error
}

type driverRunner struct {
	driver   neo4jv5.DriverWithContext
	database string
}

func dialDriver(cfg Config) (*driverRunner, error) {
	auth := neo4jv5.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4jv5.NewDriverWithContext(cfg.URI, auth, func(c *neo4jv5.Config) {
		if cfg.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		}
		c.ConnectionAcquisitionTimeout = cfg.ConnectTimeout
		c.SocketConnectTimeout = cfg.ConnectTimeout
		c.MaxTransactionRetryTime = time.Duration(0)
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &driverRunner{driver: driver, database: cfg.Database}, nil
}

func (r *driverRunner) session(ctx context.Context, mode neo4jv5.AccessMode) neo4jv5.SessionWithContext {
	return r.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

func (r *driverRunner) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	session := r.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (r *driverRunner) write(ctx context.Context, stmts ...statement) error {
	session := r.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	// Close rolls back when Commit was never reached.
	defer tx.Close(ctx)

	for _, s := range stmts {
		result, err := tx.Run(ctx, s.cypher, s.params)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *driverRunner) verify(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

func (r *driverRunner) close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Package bootstrap builds the sync stack shared by the server and the
// worker from environment variables.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reqgraph/backend/internal/db"
	"github.com/reqgraph/backend/internal/util"
	"github.com/reqgraph/backend/pkg/backoff"
	"github.com/reqgraph/backend/pkg/graphsync"
	"github.com/reqgraph/backend/pkg/leaselock"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/logger/console"
	"github.com/reqgraph/backend/pkg/store/neo4j"
	pgxstore "github.com/reqgraph/backend/pkg/store/pgx"
)

// Stack is everything a process needs to sync requirements.
type Stack struct {
	Pool    *pgxpool.Pool
	Graph   *neo4j.GraphDBStorage
	Manager *graphsync.Manager
}

func (s *Stack) Close(ctx context.Context) {
	if err := s.Graph.Close(ctx); err != nil {
		logger.Warn("[Bootstrap] Failed to close graph driver", "err", err)
	}
	s.Pool.Close()
}

// InitLogger installs the console logger, verbose when DEBUG is set and
// JSON formatted when LOG_JSON is set.
func InitLogger(prefix string) {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: prefix,
	})
	logger.Init(consoleLogger)
}

// RetryPolicy reads GRAPH_RETRY_ATTEMPTS, GRAPH_RETRY_DELAY and
// GRAPH_RETRY_BACKOFF on top of backoff.DefaultPolicy.
func RetryPolicy() backoff.Policy {
	p := backoff.DefaultPolicy
	p.MaxAttempts = util.GetEnvInt("GRAPH_RETRY_ATTEMPTS", p.MaxAttempts)
	p.Delay = util.GetEnvDuration("GRAPH_RETRY_DELAY", p.Delay)
	p.Factor = util.GetEnvFloat("GRAPH_RETRY_BACKOFF", p.Factor)
	p.MaxDelay = util.GetEnvDuration("GRAPH_RETRY_MAX_DELAY", p.MaxDelay)
	return p
}

func GraphConfig() neo4j.Config {
	return neo4j.Config{
		URI:                   util.GetEnvString("NEO4J_URI", ""),
		Username:              util.GetEnvString("NEO4J_USER", "neo4j"),
		Password:              util.GetEnvString("NEO4J_PASSWORD", ""),
		Database:              util.GetEnvString("NEO4J_DATABASE", ""),
		ConnectTimeout:        util.GetEnvDuration("GRAPH_CONNECT_TIMEOUT", neo4j.DefaultConnectTimeout),
		MaxConnectionPoolSize: util.GetEnvInt("NEO4J_MAX_POOL_SIZE", 0),
	}
}

// NewStack migrates the primary store, opens the pool and the graph, and
// wires the sync manager under the project lease lock. The graph never
// fails construction; an unreachable graph leaves the stack degraded.
func NewStack(ctx context.Context) (*Stack, error) {
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	exec, err := backoff.New(RetryPolicy(), neo4j.IsTransient)
	if err != nil {
		pool.Close()
		return nil, err
	}

	policy := exec.Policy()
	logger.Debug("[Bootstrap] Graph retry policy",
		"max_attempts", policy.MaxAttempts,
		"delay", policy.Delay,
		"factor", policy.Factor,
		"max_delay", policy.MaxDelay,
	)

	graph := neo4j.NewGraphDBStorage(ctx, GraphConfig(),
		neo4j.WithExecutor(exec),
		neo4j.WithPruneStale(util.GetEnvBool("GRAPH_PRUNE_STALE", true)),
	)
	logger.Info("[Bootstrap] Graph storage ready", "state", graph.State().String())

	records := pgxstore.NewRequirementDBStorage(pool)
	manager := graphsync.NewManager(graph, records,
		graphsync.WithWorkers(util.GetEnvInt("SYNC_WORKERS", graphsync.DefaultWorkers)),
		graphsync.WithDuplicateThreshold(util.GetEnvFloat("DUPLICATE_THRESHOLD", graphsync.DefaultDuplicateThreshold)),
		graphsync.WithLocker(leaselock.New(pool)),
	)

	return &Stack{Pool: pool, Graph: graph, Manager: manager}, nil
}

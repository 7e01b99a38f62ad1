// Package neo4j stores the requirement graph in Neo4j.
//
// GraphDBStorage decides once, when it is built, whether the graph service
// can be used. If it cannot, the storage stays in degraded mode for its
// whole lifetime: imports report success with the requirement's own id and
// queries return nothing. Every call against a live service runs through a
// backoff.Executor that retries transient driver errors.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reqgraph/backend/pkg/backoff"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
)

type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultConnectTimeout = 10 * time.Second

	FulltextIndexName = "requirementIndex"
)

type Config struct {
	URI      string
	Username string
	Password string
	// Database is empty for the server's default database.
	Database string

	ConnectTimeout        time.Duration
	MaxConnectionPoolSize int
}

var schemaStatements = []string{
	"CREATE CONSTRAINT requirement_id IF NOT EXISTS FOR (r:Requirement) REQUIRE r.id IS UNIQUE",
	"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	"CREATE FULLTEXT INDEX " + FulltextIndexName + " IF NOT EXISTS FOR (r:Requirement) ON EACH [r.name, r.statement, r.description]",
}

type GraphDBStorage struct {
	runner     cypherRunner
	state      State
	initErr    error
	exec       *backoff.Executor
	pruneStale bool

	closeOnce sync.Once
	closeErr  error
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithExecutor replaces the default retry policy (3 attempts, 1s, x2).
func WithExecutor(exec *backoff.Executor) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if exec != nil {
			s.exec = exec
		}
	}
}

// WithPruneStale controls whether an import removes INVOLVES and
// DEPENDS_ON edges that are no longer part of the requirement.
func WithPruneStale(prune bool) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.pruneStale = prune
	}
}

func withRunner(r cypherRunner) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.runner = r
	}
}

// NewGraphDBStorage connects to Neo4j and creates the schema. It never
// fails: connection or schema errors are logged and leave the storage
// unavailable.
func NewGraphDBStorage(ctx context.Context, cfg Config, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		state:      StateUninitialized,
		exec:       backoff.MustNew(backoff.DefaultPolicy, IsTransient),
		pruneStale: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.state = StateConnecting
	if err := s.connect(ctx, cfg); err != nil {
		logger.Warn("[Graph] Neo4j unavailable, graph features disabled", "uri", cfg.URI, "err", err)
		if s.runner != nil {
			if cerr := s.runner.close(ctx); cerr != nil {
				logger.Debug("[Graph] Closing driver after failed init", "err", cerr)
			}
			s.runner = nil
		}
		s.initErr = err
		s.state = StateUnavailable
		return s
	}

	s.state = StateAvailable
	logger.Info("[Graph] Connected to Neo4j", "uri", cfg.URI, "database", cfg.Database)
	return s
}

func (s *GraphDBStorage) connect(ctx context.Context, cfg Config) error {
	if s.runner == nil {
		if cfg.URI == "" {
			return errors.New("no neo4j uri configured")
		}
		if cfg.ConnectTimeout <= 0 {
			cfg.ConnectTimeout = DefaultConnectTimeout
		}
		r, err := dialDriver(cfg)
		if err != nil {
			return err
		}
		s.runner = r
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.runner.verify(verifyCtx); err != nil {
		return fmt.Errorf("verify connectivity: %w", err)
	}

	for _, stmt := range schemaStatements {
		if err := s.runner.write(ctx, statement{cypher: stmt}); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Available reports whether the graph service passed the startup checks.
func (s *GraphDBStorage) Available() bool {
	return s.state == StateAvailable
}

func (s *GraphDBStorage) State() State {
	return s.state
}

type Health struct {
	State     string `json:"state"`
	Available bool   `json:"available"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Health reports the startup state and, when available, whether the
// service still answers. A failed probe does not change the state.
func (s *GraphDBStorage) Health(ctx context.Context) Health {
	h := Health{State: s.state.String(), Available: s.Available()}
	if !s.Available() {
		if s.initErr != nil {
			h.Error = s.initErr.Error()
		}
		return h
	}
	if err := s.runner.verify(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Reachable = true
	return h
}

// Close releases the driver. Calling it more than once, or on an
// unavailable storage, is a no-op.
func (s *GraphDBStorage) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.runner == nil {
			return
		}
		s.closeErr = s.runner.close(ctx)
		if s.closeErr != nil {
			logger.Error("[Graph] Closing driver", "err", s.closeErr)
		}
	})
	return s.closeErr
}

// wrapError leaves retry and context outcomes untouched and tags everything
// else as a GraphError.
func (s *GraphDBStorage) wrapError(op, recordID string, err error) error {
	logger.Error(fmt.Sprintf("[Graph][%s] Failed", op), "id", recordID, "err", err)
	if errors.Is(err, backoff.ErrRetriesExhausted) ||
		errors.Is(err, backoff.ErrCanceled) ||
		errors.Is(err, backoff.ErrTimeout) {
		return err
	}
	return &GraphError{Op: op, RecordID: recordID, Err: err}
}

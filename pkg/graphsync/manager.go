// Package graphsync pushes requirements from the primary store into the
// graph store and keeps track of what was pushed.
//
// Nothing in here fails a caller because the graph is unreachable: single
// syncs report false, batches report counts, analyses report nothing.
package graphsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/leaselock"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
)

const (
	DefaultWorkers            = 4
	DefaultDuplicateThreshold = 0.8
	DefaultBookkeepingTimeout = 5 * time.Second

	analysisRelatedDepth   = 2
	analysisRelatedLimit   = 20
	analysisDuplicateLimit = 10
	analysisConflictLimit  = 20
)

// ErrNoRecordStore is returned by operations that need the primary store
// when the manager was built without one.
var ErrNoRecordStore = errors.New("graphsync: no record store configured")

// Locker serialises batch runs per project. *leaselock.Client satisfies it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

type Manager struct {
	graph   store.GraphStorage
	records store.RecordStorage

	workers            int
	locker             Locker
	leaseOpts          leaselock.Options
	now                func() time.Time
	threshold          float64
	bookkeepingTimeout time.Duration
}

type Option func(*Manager)

// WithWorkers bounds how many records a batch imports at once.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithLocker(l Locker) Option {
	return func(m *Manager) {
		m.locker = l
	}
}

func WithLeaseOptions(opts leaselock.Options) Option {
	return func(m *Manager) {
		m.leaseOpts = opts
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithDuplicateThreshold(threshold float64) Option {
	return func(m *Manager) {
		m.threshold = threshold
	}
}

func WithBookkeepingTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.bookkeepingTimeout = d
		}
	}
}

func NewManager(graph store.GraphStorage, records store.RecordStorage, opts ...Option) *Manager {
	m := &Manager{
		graph:              graph,
		records:            records,
		workers:            DefaultWorkers,
		now:                time.Now,
		threshold:          DefaultDuplicateThreshold,
		bookkeepingTimeout: DefaultBookkeepingTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m
}

// Available reports whether the graph store accepted its startup checks.
func (m *Manager) Available() bool {
	return m.graph.Available()
}

// SyncOne imports req into the graph. It returns false when the graph is
// unavailable or the import failed; the cause is logged, never returned.
func (m *Manager) SyncOne(ctx context.Context, req common.Requirement, projectID string) bool {
	if !m.graph.Available() {
		logger.Warn("[Sync][SyncOne] Graph unavailable, requirement not synced", "id", req.NodeID())
		return false
	}

	nodeID, err := m.graph.ImportRequirement(ctx, req, projectID)
	if err != nil {
		logger.Error("[Sync][SyncOne] Import failed", "id", req.NodeID(), "project", projectID, "err", err)
		return false
	}

	m.recordSync(ctx, req, nodeID)
	return true
}

// recordSync writes the bookkeeping row. It runs detached from ctx so a
// caller that gives up right after the import still gets the row, and its
// failure does not change the result of the sync.
func (m *Manager) recordSync(ctx context.Context, req common.Requirement, nodeID string) {
	if m.records == nil {
		return
	}
	requirementID := req.ID
	if requirementID == "" {
		requirementID = nodeID
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.bookkeepingTimeout)
	defer cancel()
	err := m.records.UpsertSyncStatus(bctx, common.SyncStatus{
		RequirementID: requirementID,
		Synced:        true,
		SyncedAt:      m.now().UTC(),
		GraphNodeID:   nodeID,
	})
	if err != nil {
		logger.Warn("[Sync][SyncOne] Could not record sync status", "id", requirementID, "err", err)
	}
}

// SyncByID loads a requirement from the primary store and syncs it into
// its own project. Lookup failures are returned; sync failures are not.
func (m *Manager) SyncByID(ctx context.Context, id string) (bool, error) {
	if m.records == nil {
		return false, ErrNoRecordStore
	}
	req, err := m.records.GetRequirement(ctx, id)
	if err != nil {
		return false, err
	}
	return m.SyncOne(ctx, req, req.ProjectID), nil
}

// Status returns the bookkeeping row of a requirement.
func (m *Manager) Status(ctx context.Context, id string) (common.SyncStatus, error) {
	if m.records == nil {
		return common.SyncStatus{}, ErrNoRecordStore
	}
	return m.records.GetSyncStatus(ctx, id)
}

// BatchSync imports every requirement of a project.
func (m *Manager) BatchSync(ctx context.Context, projectID string) common.BatchResult {
	if m.records == nil {
		return noRecordStore(projectID)
	}
	return m.runBatch(ctx, "BatchSync", projectID, m.records.ListProjectRequirements)
}

// Reconcile imports only the requirements of a project whose sync row is
// missing, failed or older than the record.
func (m *Manager) Reconcile(ctx context.Context, projectID string) common.BatchResult {
	if m.records == nil {
		return noRecordStore(projectID)
	}
	return m.runBatch(ctx, "Reconcile", projectID, m.records.ListUnsyncedRequirements)
}

func noRecordStore(projectID string) common.BatchResult {
	return common.BatchResult{ProjectID: projectID, Success: false, Error: ErrNoRecordStore.Error()}
}

type fetchFunc func(ctx context.Context, projectID string) ([]common.Requirement, error)

func (m *Manager) runBatch(ctx context.Context, op, projectID string, fetch fetchFunc) common.BatchResult {
	if m.locker == nil {
		return m.batch(ctx, op, projectID, fetch)
	}

	var result common.BatchResult
	err := m.locker.WithLease(ctx, leaselock.ProjectKey(projectID), m.leaseOpts, func(ctx context.Context) error {
		result = m.batch(ctx, op, projectID, fetch)
		return nil
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, leaselock.ErrBusy) {
			msg = "a batch sync is already running for this project"
		}
		logger.Warn(fmt.Sprintf("[Sync][%s] Could not acquire project lease", op), "project", projectID, "err", err)
		return common.BatchResult{ProjectID: projectID, Success: false, Error: msg}
	}
	return result
}

func (m *Manager) batch(ctx context.Context, op, projectID string, fetch fetchFunc) common.BatchResult {
	start := time.Now()
	reqs, err := fetch(ctx, projectID)
	if err != nil {
		logger.Error(fmt.Sprintf("[Sync][%s] Could not load requirements", op), "project", projectID, "err", err)
		return common.BatchResult{
			ProjectID: projectID,
			Success:   false,
			Error:     fmt.Sprintf("load requirements: %v", err),
		}
	}

	total := len(reqs)
	logger.Info(fmt.Sprintf("[Sync][%s] Starting", op), "project", projectID, "total", total, "workers", m.workers)

	var synced, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.workers)

	scheduled := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			if m.SyncOne(ctx, req, projectID) {
				synced.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := common.BatchResult{
		ProjectID: projectID,
		Success:   true,
		Synced:    int(synced.Load()),
		Failed:    int(failed.Load()) + total - scheduled,
		Total:     total,
	}
	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("batch interrupted: %v", context.Cause(ctx))
	}

	logger.Info(fmt.Sprintf("[Sync][%s] Finished", op),
		"project", projectID,
		"synced", result.Synced,
		"failed", result.Failed,
		"total", result.Total,
		"duration", time.Since(start),
	)
	return result
}

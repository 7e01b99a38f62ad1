package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqgraph/backend/internal/queue"
	mid "github.com/reqgraph/backend/internal/server/middleware"
	"github.com/reqgraph/backend/pkg/backoff"
	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/store"
	"github.com/reqgraph/backend/pkg/store/neo4j"
)

const masterKey = "master-key"

var signingKey = []byte("test-signing-key")

type fakeSync struct {
	synced    []string
	syncErr   error
	available bool
}

func (s *fakeSync) SyncByID(_ context.Context, id string) (bool, error) {
	if s.syncErr != nil {
		return false, s.syncErr
	}
	s.synced = append(s.synced, id)
	return true, nil
}

func (s *fakeSync) Status(_ context.Context, id string) (common.SyncStatus, error) {
	if id != "r1" {
		return common.SyncStatus{}, store.ErrNotFound
	}
	return common.SyncStatus{RequirementID: "r1", Synced: true, GraphNodeID: "r1"}, nil
}

func (s *fakeSync) Analyze(_ context.Context, id string) (*common.Analysis, bool) {
	if !s.available {
		return nil, false
	}
	return &common.Analysis{RequirementID: id}, true
}

type fakeGraph struct {
	available bool
	queryErr  error
	dupReq    common.Requirement
	dupThresh float64
}

func (g *fakeGraph) Available() bool { return g.available }

func (g *fakeGraph) ImportRequirement(_ context.Context, req common.Requirement, _ string) (string, error) {
	return req.NodeID(), nil
}

func (g *fakeGraph) FindDuplicates(_ context.Context, req common.Requirement, threshold float64, _ int) ([]common.DuplicateCandidate, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	g.dupReq = req
	g.dupThresh = threshold
	return []common.DuplicateCandidate{{ID: "r9", Score: 1.5}}, nil
}

func (g *fakeGraph) FindConflicts(context.Context, string, int) ([]common.ConflictCandidate, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return []common.ConflictCandidate{}, nil
}

func (g *fakeGraph) GetRelatedRequirements(_ context.Context, _ string, depth, _ int) ([]common.RelatedRequirement, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if depth < 1 || depth > 5 {
		return nil, store.ErrInvalidArgument
	}
	return []common.RelatedRequirement{{ID: "r2", Distance: 1}}, nil
}

func (g *fakeGraph) Close(context.Context) error { return nil }

type publishedMsg struct {
	queue string
	body  []byte
}

type testEnv struct {
	sync      *fakeSync
	graph     *fakeGraph
	published []publishedMsg
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{sync: &fakeSync{available: true}, graph: &fakeGraph{available: true}}
	app := &mid.App{
		Sync:  env.sync,
		Graph: env.graph,
		Publish: func(_ context.Context, queueName, _ string, body []byte) error {
			env.published = append(env.published, publishedMsg{queue: queueName, body: body})
			return nil
		},
		KeyFunc: func(*jwt.Token) (any, error) { return signingKey, nil },

		MasterAPIKey:   masterKey,
		MasterUserID:   "master",
		MasterUserRole: "admin",
	}
	env.handler = New(app)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return tok
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(mid.CorrelationHeader))
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/requirements/r1/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/requirements/r1/status", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	reader := signToken(t, jwt.MapClaims{
		"id":          "u1",
		"permissions": []any{mid.PermRequirementRead},
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	rec = env.do(t, http.MethodGet, "/api/requirements/r1/status", reader, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/requirements/r1/sync", reader, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	expired := signToken(t, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
	rec = env.do(t, http.MethodGet, "/api/requirements/r1/status", expired, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := signToken(t, jwt.MapClaims{"sub": "u2", "role": "admin"})
	rec = env.do(t, http.MethodPost, "/api/requirements/r1/sync", admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncRequirement(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/requirements/r1/sync", masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requirement_id":"r1","synced":true}`, rec.Body.String())
	assert.Equal(t, []string{"r1"}, env.sync.synced)

	env.sync.syncErr = store.ErrNotFound
	rec = env.do(t, http.MethodPost, "/api/requirements/r404/sync", masterKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.sync.syncErr = errors.New("pool closed")
	rec = env.do(t, http.MethodPost, "/api/requirements/r1/sync", masterKey, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pool closed")
}

func TestSyncRequirement_Async(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/requirements/r1/sync?async=true", masterKey, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.published, 1)
	assert.Equal(t, queue.SyncQueue, env.published[0].queue)

	var msg queue.SyncRequirementMsg
	require.NoError(t, json.Unmarshal(env.published[0].body, &msg))
	assert.Equal(t, "r1", msg.RequirementID)
	assert.Equal(t, rec.Header().Get(mid.CorrelationHeader), msg.CorrelationID)
}

func TestStatusAndAnalysis(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/requirements/r1/status", masterKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/requirements/r2/status", masterKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/requirements/r1/analysis", masterKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.sync.available = false
	rec = env.do(t, http.MethodGet, "/api/requirements/r1/analysis", masterKey, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRelated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/requirements/r1/related?depth=3", masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"depth":3`)

	rec = env.do(t, http.MethodGet, "/api/requirements/r1/related?depth=9", masterKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/requirements/r1/related?depth=abc", masterKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.graph.available = false

	rec := env.do(t, http.MethodGet, "/api/requirements/r1/conflicts", masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requirement_id":"r1","graph_available":false,"conflicts":[]}`, rec.Body.String())
}

func TestDuplicates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/duplicates", masterKey, `{"name":"Login","shall":"The system shall log in users"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"r9"`)
	assert.Equal(t, "The system shall log in users", env.graph.dupReq.Statement)
	assert.Equal(t, 0.8, env.graph.dupThresh)

	rec = env.do(t, http.MethodPost, "/api/duplicates", masterKey, `{"name":"Login","shall":"x","threshold":0.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.2, env.graph.dupThresh)

	rec = env.do(t, http.MethodPost, "/api/duplicates", masterKey, `{"name":"Login"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/duplicates", masterKey, `{"shall":"x","limit":1000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncProject(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/projects/p1/sync?reconcile=true", masterKey, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.published, 1)
	assert.Equal(t, queue.BatchSyncQueue, env.published[0].queue)

	var msg queue.BatchSyncMsg
	require.NoError(t, json.Unmarshal(env.published[0].body, &msg))
	assert.Equal(t, "p1", msg.ProjectID)
	assert.True(t, msg.Reconcile)
}

func TestGraphHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/graph/health", masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":true}`, rec.Body.String())
}

func TestGraphQueries_DegradeWhenGraphFails(t *testing.T) {
	outages := map[string]error{
		"exhausted": &backoff.ExhaustedError{Op: "find_conflicts", Attempts: 3, Err: errors.New("connection refused")},
		"graph":     &neo4j.GraphError{Op: "find_conflicts", RecordID: "r1", Err: errors.New("syntax")},
	}
	for name, outage := range outages {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.graph.queryErr = outage

			rec := env.do(t, http.MethodGet, "/api/requirements/r1/conflicts", masterKey, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"requirement_id":"r1","graph_available":false,"conflicts":[]}`, rec.Body.String())

			rec = env.do(t, http.MethodGet, "/api/requirements/r1/related", masterKey, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"requirement_id":"r1","graph_available":false,"depth":2,"related_requirements":[]}`, rec.Body.String())

			rec = env.do(t, http.MethodPost, "/api/duplicates", masterKey, `{"shall":"The system shall log in users"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"graph_available":false,"duplicates":[]}`, rec.Body.String())
		})
	}
}

func TestGraphQueries_OtherErrorsStayErrors(t *testing.T) {
	env := newTestEnv(t)

	env.graph.queryErr = store.ErrInvalidArgument
	rec := env.do(t, http.MethodGet, "/api/requirements/r1/conflicts", masterKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.graph.queryErr = errors.New("pool closed")
	rec = env.do(t, http.MethodGet, "/api/requirements/r1/related", masterKey, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package neo4j

import (
	"context"
	"fmt"
	"math"
	"strings"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/reqgraph/backend/pkg/backoff"
	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/store"
)

const (
	DefaultDuplicateThreshold = 0.8
	DefaultDuplicateLimit     = 10
	DefaultConflictLimit      = 20
	DefaultRelatedDepth       = 2
	DefaultRelatedLimit       = 20
	MaxRelatedDepth           = 5
)

const duplicatesQuery = `
CALL db.index.fulltext.queryNodes('` + FulltextIndexName + `', $query)
YIELD node, score
WHERE score > $threshold AND node.id <> $exclude_id
RETURN node.id AS id, node.identifier AS identifier, node.name AS name, score
ORDER BY score DESC, id ASC
LIMIT $limit
`

// Both orderings of the modal check are listed so the result does not
// depend on which side of the pair is asked about.
const conflictsQuery = `
MATCH (r:Requirement {id: $id})
MATCH (other:Requirement)
WHERE other.id <> r.id AND other.project_id = r.project_id
WITH r, other,
     toLower(coalesce(r.statement, '')) AS rs,
     toLower(coalesce(other.statement, '')) AS os
WITH other,
     CASE
       WHEN (r.category = 'functional' AND other.category = 'non_functional'
             AND rs CONTAINS 'must' AND os CONTAINS 'must not')
         OR (r.category = 'non_functional' AND other.category = 'functional'
             AND rs CONTAINS 'must not' AND os CONTAINS 'must')
         THEN 'modal_polarity'
       WHEN r.priority = 1 AND other.priority = 1
            AND r.statement IS NOT NULL AND other.statement IS NOT NULL
            AND r.statement <> other.statement
         THEN 'priority_contention'
     END AS conflict_type
WHERE conflict_type IS NOT NULL
RETURN other.id AS id, other.identifier AS identifier, other.name AS name,
       other.statement AS statement, conflict_type
ORDER BY id ASC
LIMIT $limit
`

const relatedQueryTemplate = `
MATCH path = (r:Requirement {id: $id})-[*1..%d]-(related:Requirement)
WHERE related.id <> $id
WITH related, min(length(path)) AS distance
RETURN related.id AS id, related.identifier AS identifier, related.name AS name, distance
ORDER BY distance ASC, id ASC
LIMIT $limit
`

// relatedQueries holds one query per supported depth. Variable-length
// bounds cannot be parameters, so the set is fixed up front.
var relatedQueries = func() map[int]string {
	m := make(map[int]string, MaxRelatedDepth)
	for depth := 1; depth <= MaxRelatedDepth; depth++ {
		m[depth] = fmt.Sprintf(relatedQueryTemplate, depth)
	}
	return m
}()

// FindDuplicates runs a full-text search for requirements whose name and
// statement resemble req. Scores are relevance, not similarity, and are
// only comparable within one result.
func (s *GraphDBStorage) FindDuplicates(ctx context.Context, req common.Requirement, threshold float64, limit int) ([]common.DuplicateCandidate, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite", store.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = DefaultDuplicateLimit
	}
	if !s.Available() {
		return []common.DuplicateCandidate{}, nil
	}

	// Lower-cased so AND, OR and NOT are searched as words.
	text := EscapeLucene(strings.ToLower(req.SearchText()))
	if strings.TrimSpace(text) == "" {
		return []common.DuplicateCandidate{}, nil
	}

	params := map[string]any{
		"query":      text,
		"threshold":  threshold,
		"exclude_id": req.NodeID(),
		"limit":      int64(limit),
	}
	records, err := s.read(ctx, "find_duplicates", req.NodeID(), duplicatesQuery, params)
	if err != nil {
		return nil, err
	}

	out := make([]common.DuplicateCandidate, 0, len(records))
	for _, rec := range records {
		out = append(out, common.DuplicateCandidate{
			ID:         recordString(rec, "id"),
			Identifier: recordString(rec, "identifier"),
			Name:       recordString(rec, "name"),
			Score:      recordFloat(rec, "score"),
		})
	}
	return out, nil
}

// FindConflicts returns requirements of the same project that the
// structural heuristics flag against requirementID.
func (s *GraphDBStorage) FindConflicts(ctx context.Context, requirementID string, limit int) ([]common.ConflictCandidate, error) {
	if requirementID == "" {
		return nil, fmt.Errorf("%w: empty requirement id", store.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = DefaultConflictLimit
	}
	if !s.Available() {
		return []common.ConflictCandidate{}, nil
	}

	params := map[string]any{"id": requirementID, "limit": int64(limit)}
	records, err := s.read(ctx, "find_conflicts", requirementID, conflictsQuery, params)
	if err != nil {
		return nil, err
	}

	out := make([]common.ConflictCandidate, 0, len(records))
	for _, rec := range records {
		out = append(out, common.ConflictCandidate{
			ID:           recordString(rec, "id"),
			Identifier:   recordString(rec, "identifier"),
			Name:         recordString(rec, "name"),
			Statement:    recordString(rec, "statement"),
			ConflictType: recordString(rec, "conflict_type"),
		})
	}
	return out, nil
}

// GetRelatedRequirements walks up to maxDepth hops over any relationship
// in either direction and returns each reachable requirement once, at its
// shortest distance.
func (s *GraphDBStorage) GetRelatedRequirements(ctx context.Context, requirementID string, maxDepth int, limit int) ([]common.RelatedRequirement, error) {
	if requirementID == "" {
		return nil, fmt.Errorf("%w: empty requirement id", store.ErrInvalidArgument)
	}
	if maxDepth == 0 {
		maxDepth = DefaultRelatedDepth
	}
	query, ok := relatedQueries[maxDepth]
	if !ok {
		return nil, fmt.Errorf("%w: depth must be between 1 and %d, got %d", store.ErrInvalidArgument, MaxRelatedDepth, maxDepth)
	}
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}
	if !s.Available() {
		return []common.RelatedRequirement{}, nil
	}

	params := map[string]any{"id": requirementID, "limit": int64(limit)}
	records, err := s.read(ctx, "get_related", requirementID, query, params)
	if err != nil {
		return nil, err
	}

	out := make([]common.RelatedRequirement, 0, len(records))
	for _, rec := range records {
		out = append(out, common.RelatedRequirement{
			ID:         recordString(rec, "id"),
			Identifier: recordString(rec, "identifier"),
			Name:       recordString(rec, "name"),
			Distance:   int(recordInt(rec, "distance")),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) read(ctx context.Context, op, recordID, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	records, err := backoff.Do(ctx, s.exec, op, func(ctx context.Context) ([]*neo4jv5.Record, error) {
		return s.runner.read(ctx, cypher, params)
	})
	if err != nil {
		return nil, s.wrapError(op, recordID, err)
	}
	return records, nil
}

// luceneSpecial lists the characters the full-text query parser treats as
// syntax. && and || are covered by escaping each & and |.
const luceneSpecial = `+-&|!(){}[]^"~*?:\/`

// EscapeLucene makes free text safe to pass as a full-text query.
func EscapeLucene(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(luceneSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func recordString(rec *neo4jv5.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func recordFloat(rec *neo4jv5.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func recordInt(rec *neo4jv5.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

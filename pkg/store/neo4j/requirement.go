package neo4j

import (
	"context"
	"fmt"

	"github.com/reqgraph/backend/pkg/common"
	"github.com/reqgraph/backend/pkg/logger"
	"github.com/reqgraph/backend/pkg/store"
)

const upsertRequirementQuery = `
MERGE (r:Requirement {id: $id})
SET r.project_id = $project_id,
    r.identifier = $identifier,
    r.name = $name,
    r.statement = $statement,
    r.category = $category,
    r.priority = $priority,
    r.status = $status,
    r.description = $description,
    r.created_at = coalesce(r.created_at, $created_at, datetime()),
    r.updated_at = datetime()
`

const pruneEntitiesQuery = `
MATCH (r:Requirement {id: $id})-[:INVOLVES]->(e:Entity)
WHERE NOT e.id IN $entity_ids
DETACH DELETE e
`

const pruneDependenciesQuery = `
MATCH (r:Requirement {id: $id})-[rel:DEPENDS_ON]->(d:Requirement)
WHERE NOT d.id IN $dependency_ids
DELETE rel
`

const mergeEntitiesQuery = `
MATCH (r:Requirement {id: $id})
UNWIND $entities AS ent
MERGE (e:Entity {id: ent.id})
SET e.name = ent.name,
    e.type = ent.type,
    e.updated_at = datetime()
MERGE (r)-[:INVOLVES]->(e)
`

// Targets that were never imported become stub nodes carrying only id and
// project; a later import of the target fills in the rest.
const mergeDependenciesQuery = `
MATCH (r:Requirement {id: $id})
UNWIND $dependency_ids AS dep_id
MERGE (d:Requirement {id: dep_id})
ON CREATE SET d.project_id = $project_id
MERGE (r)-[:DEPENDS_ON]->(d)
`

// ImportRequirement upserts a requirement, its entities and its
// dependency edges in one transaction and returns the node id.
// Re-importing the same record is a no-op apart from updated_at.
func (s *GraphDBStorage) ImportRequirement(ctx context.Context, req common.Requirement, projectID string) (string, error) {
	nodeID := req.NodeID()
	if nodeID == "" {
		return "", fmt.Errorf("%w: requirement has neither id nor identifier", store.ErrInvalidArgument)
	}
	if !s.Available() {
		logger.Debug("[Graph][Import] Graph unavailable, skipping", "id", nodeID)
		return nodeID, nil
	}
	if projectID == "" {
		projectID = req.ProjectID
	}

	stmts := importStatements(req, nodeID, projectID, s.pruneStale)
	err := s.exec.Run(ctx, "import_requirement", func(ctx context.Context) error {
		return s.runner.write(ctx, stmts...)
	})
	if err != nil {
		return "", s.wrapError("import_requirement", nodeID, err)
	}

	logger.Debug("[Graph][Import] Requirement imported", "id", nodeID, "project", projectID,
		"entities", len(req.Entities), "dependencies", len(req.Dependencies))
	return nodeID, nil
}

func importStatements(req common.Requirement, nodeID, projectID string, prune bool) []statement {
	entities := entityParams(nodeID, req.Entities)
	entityIDs := make([]string, 0, len(entities))
	for _, e := range entities {
		entityIDs = append(entityIDs, e["id"].(string))
	}
	dependencyIDs := dependencyParams(nodeID, req.Dependencies)

	status := req.Status
	if status == "" {
		status = common.DefaultStatus
	}
	var priority any
	if req.Priority != 0 {
		priority = int64(req.Priority)
	}
	var createdAt any
	if !req.CreatedAt.IsZero() {
		createdAt = req.CreatedAt
	}

	stmts := []statement{{
		cypher: upsertRequirementQuery,
		params: map[string]any{
			"id":          nodeID,
			"project_id":  projectID,
			"identifier":  req.Identifier,
			"name":        req.Name,
			"statement":   req.Statement,
			"category":    common.NormalizeCategory(req.Category),
			"priority":    priority,
			"status":      status,
			"description": req.Description,
			"created_at":  createdAt,
		},
	}}

	if prune {
		stmts = append(stmts,
			statement{cypher: pruneEntitiesQuery, params: map[string]any{"id": nodeID, "entity_ids": entityIDs}},
			statement{cypher: pruneDependenciesQuery, params: map[string]any{"id": nodeID, "dependency_ids": dependencyIDs}},
		)
	}
	if len(entities) > 0 {
		stmts = append(stmts, statement{
			cypher: mergeEntitiesQuery,
			params: map[string]any{"id": nodeID, "entities": entities},
		})
	}
	if len(dependencyIDs) > 0 {
		stmts = append(stmts, statement{
			cypher: mergeDependenciesQuery,
			params: map[string]any{"id": nodeID, "project_id": projectID, "dependency_ids": dependencyIDs},
		})
	}
	return stmts
}

// entityParams drops nameless entities and collapses entities that map to
// the same node id; the last one wins.
func entityParams(nodeID string, entities []common.Entity) []map[string]any {
	index := make(map[string]int, len(entities))
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		typ := e.Type
		if typ == "" {
			typ = common.DefaultEntityType
		}
		id := common.EntityNodeID(nodeID, e.Name)
		param := map[string]any{"id": id, "name": e.Name, "type": typ}
		if i, ok := index[id]; ok {
			out[i] = param
			continue
		}
		index[id] = len(out)
		out = append(out, param)
	}
	return out
}

func dependencyParams(nodeID string, deps []string) []string {
	out := make([]string, 0, len(deps))
	for _, d := range store.DedupeStrings(deps) {
		if d == "" || d == nodeID {
			continue
		}
		out = append(out, d)
	}
	return out
}

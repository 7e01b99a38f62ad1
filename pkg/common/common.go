package common

import (
	"strings"
	"time"
)

// Requirement is one record of the primary store as the graph sees it.
//
// ID is the global primary key. Identifier is the human label (e.g.
// "REQ-001") and is only unique inside a project. Statement holds the
// formal "shall" text and is serialised as "shall" to match the primary
// store columns.
type Requirement struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Identifier   string    `json:"identifier"`
	Name         string    `json:"name"`
	Statement    string    `json:"shall"`
	Category     string    `json:"category"`
	Priority     int       `json:"priority"`
	Status       string    `json:"status"`
	Description  string    `json:"description"`
	Entities     []Entity  `json:"entities"`
	Dependencies []string  `json:"dependencies"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NodeID is the key the requirement is stored under in the graph. Records
// without an ID fall back to their identifier.
func (r Requirement) NodeID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Identifier
}

// SearchText is the text duplicate search runs on.
func (r Requirement) SearchText() string {
	return strings.TrimSpace(r.Name + " " + r.Statement)
}

// Entity is an actor, data object, process or external system a
// requirement mentions.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

const (
	DefaultEntityType = "unknown"
	DefaultStatus     = "draft"

	CategoryFunctional    = "functional"
	CategoryNonFunctional = "non_functional"
)

// EntityNodeID derives the graph id of an entity owned by a requirement.
// It is deterministic so re-importing the same requirement never creates a
// second entity node.
func EntityNodeID(requirementID, entityName string) string {
	return "entity_" + requirementID + "_" + strings.ReplaceAll(entityName, " ", "_")
}

// NormalizeCategory folds spelling variants ("Non-Functional",
// "non functional") onto the stored form ("non_functional").
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.ReplaceAll(c, "-", "_")
	c = strings.ReplaceAll(c, " ", "_")
	return c
}

// SyncStatus is the best-effort bookkeeping row kept in the primary store
// for every requirement pushed to the graph. A missing row does not mean the
// requirement is missing from the graph.
type SyncStatus struct {
	RequirementID string    `json:"requirement_id"`
	Synced        bool      `json:"synced_to_graph"`
	SyncedAt      time.Time `json:"synced_at"`
	GraphNodeID   string    `json:"graph_node_id"`
}

type DuplicateCandidate struct {
	ID         string  `json:"id"`
	Identifier string  `json:"identifier"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
}

const (
	ConflictModalPolarity      = "modal_polarity"
	ConflictPriorityContention = "priority_contention"
)

// ConflictCandidate is a potential conflict found by the structural
// pre-filter. It is not a proof; downstream ranking decides.
type ConflictCandidate struct {
	ID           string `json:"id"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Statement    string `json:"statement"`
	ConflictType string `json:"conflict_type"`
}

type RelatedRequirement struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Distance   int    `json:"distance"`
}

// Analysis bundles the three graph lookups for one requirement.
type Analysis struct {
	RequirementID string               `json:"requirement_id"`
	Related       []RelatedRequirement `json:"related_requirements"`
	Duplicates    []DuplicateCandidate `json:"duplicates"`
	Conflicts     []ConflictCandidate  `json:"conflicts"`
}

// BatchResult reports a batch sync. Partial success is normal; Success is
// only false when the batch could not run (fetch failure, busy lease,
// cancellation).
type BatchResult struct {
	ProjectID string `json:"project_id"`
	Success   bool   `json:"success"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
}

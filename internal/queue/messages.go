package queue

import (
	"encoding/json"
	"fmt"

	"github.com/reqgraph/backend/pkg/common"
)

// SyncRequirementMsg asks the worker to push one requirement into the
// graph. When Requirement is nil the worker loads it by RequirementID.
type SyncRequirementMsg struct {
	CorrelationID string              `json:"correlation_id"`
	RequirementID string              `json:"requirement_id"`
	ProjectID     string              `json:"project_id,omitempty"`
	Requirement   *common.Requirement `json:"requirement,omitempty"`
}

// BatchSyncMsg asks the worker to sync a whole project. With Reconcile set
// only records whose sync status is missing or stale are pushed.
type BatchSyncMsg struct {
	CorrelationID string `json:"correlation_id"`
	ProjectID     string `json:"project_id"`
	Reconcile     bool   `json:"reconcile"`
}

func decodeSyncMsg(body []byte) (SyncRequirementMsg, error) {
	var msg SyncRequirementMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, permanent(fmt.Errorf("decode sync message: %w", err))
	}
	if msg.RequirementID == "" && msg.Requirement != nil {
		msg.RequirementID = msg.Requirement.NodeID()
	}
	if msg.RequirementID == "" {
		return msg, permanent(fmt.Errorf("sync message without requirement id"))
	}
	return msg, nil
}

func decodeBatchMsg(body []byte) (BatchSyncMsg, error) {
	var msg BatchSyncMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, permanent(fmt.Errorf("decode batch sync message: %w", err))
	}
	if msg.ProjectID == "" {
		return msg, permanent(fmt.Errorf("batch sync message without project id"))
	}
	return msg, nil
}

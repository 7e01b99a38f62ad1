package neo4j

import (
	"errors"
	"fmt"
	"net"
	"strings"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrGraphOperation matches every non-transient failure reported by the graph service.
var ErrGraphOperation = errors.New("graph operation failed")

// GraphError carries the operation and record a non-transient failure belongs to.
type GraphError struct {
	Op       string
	RecordID string
	Err      error
}

func (e *GraphError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("graph operation %s failed for %s: %v", e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("graph operation %s failed: %v", e.Op, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

func (e *GraphError) Is(target error) bool { return target == ErrGraphOperation }

// IsTransient reports whether err is a connectivity, timeout or
// Neo.TransientError.* failure that may succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var connErr *neo4jv5.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}
	var limitErr *neo4jv5.TransactionExecutionLimit
	if errors.As(err, &limitErr) {
		return true
	}
	var neoErr *neo4jv5.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.TransientError.")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

package id

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// LocalPrefix marks identifiers minted in this process that the store has
// never seen.
const LocalPrefix = "local-"

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the snowflake node id used by New. Processes that mint ids
// concurrently against the same store should use distinct nodes. Without
// Init, New uses node 0.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// New returns a time-ordered int64 unique within this node.
func New() int64 {
	mu.Lock()
	if node == nil {
		// Node 0 is always in range.
		node, _ = snowflake.NewNode(0)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

// NewLocal returns a process-local message identifier derived from the
// current time.
func NewLocal() string {
	return LocalPrefix + strconv.FormatInt(New(), 10)
}

// IsLocal reports whether s was produced by NewLocal.
func IsLocal(s string) bool {
	return len(s) > len(LocalPrefix) && s[:len(LocalPrefix)] == LocalPrefix
}

package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// The server and the drain worker must use distinct node IDs so that
// pending-operation ids never collide across processes.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered, globally unique id string.
// Used for pending-operation ids in the retry queue.
func New() string {
	return node.Generate().String()
}

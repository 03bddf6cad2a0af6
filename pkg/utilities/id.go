package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUserID returns a random UUID used as the primary key of users.
func NewUserID() string {
	return uuid.NewString()
}

// InitSnowflake configures the process-wide snowflake node. Calling it again
// replaces the node.
func InitSnowflake(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NewSnowflakeID generates a time ordered snowflake ID string. When no node
// was configured it is created from SNOWFLAKE_NODE (default 1). If node setup
// fails it falls back to a KSUID string so a unique ID is still returned.
func NewSnowflakeID() string {
	nodeMu.Lock()
	n := node
	nodeMu.Unlock()
	if n == nil {
		if err := InitSnowflake(nodeFromEnv()); err != nil {
			return NewKSUID()
		}
		nodeMu.Lock()
		n = node
		nodeMu.Unlock()
	}
	return n.Generate().String()
}

func nodeFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}

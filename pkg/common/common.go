package common

import (
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

// UUIDint64 returns a process-unique int64 identifier.
func UUIDint64() int64 {
	snowflakeOnce.Do(func() {
		nodeid := int64(os.Getpid() % 1024)
		var err error
		snowflakeNode, err = snowflake.NewNode(nodeid)
		if err != nil {
			// snowflake only fails on an out-of-range node id
			snowflakeNode, _ = snowflake.NewNode(rand.Int63n(1024))
		}
	})
	return snowflakeNode.Generate().Int64()
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Clock abstracts time.Now so services can be tested with a fixed clock.
type Clock func() time.Time

// SystemClock is the default Clock backed by time.Now.
func SystemClock() time.Time {
	return time.Now()
}

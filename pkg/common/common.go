package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
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

func node() *snowflake.Node {
	snowflakeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("LOGISTICS_NODE_ID"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = n % 1024
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			panic(fmt.Sprintf("snowflake node init: %v", err))
		}
		snowflakeNode = n
	})
	return snowflakeNode
}

// UUIDint64 returns a process-unique, time-sortable int64 identifier.
func UUIDint64() int64 {
	return node().Generate().Int64()
}

// UUIDstr returns the base58 form of a snowflake identifier.
func UUIDstr() string {
	return node().Generate().Base58()
}

// GetSecretSalt returns the hash salt, overridable via environment for
// deployments that share a database between instances.
func GetSecretSalt() string {
	if v := os.Getenv("LOGISTICS_SECRET_SALT"); v != "" {
		return v
	}
	return "shopify-logistics-app"
}

func Sha256HashWithSalt(src string, salt string) string {
	h := sha256.New()
	h.Write([]byte(src))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// NextUTCMidnight returns the first instant of the next UTC calendar day
// after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// UTCDayKey formats t as the yyyymmdd key used for day-scoped counters.
func UTCDayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

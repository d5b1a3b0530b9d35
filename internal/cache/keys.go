package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// JobStatusTTL bounds how long a mirrored job status survives without updates.
const JobStatusTTL = 30 * time.Minute

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("job:%d", jobID)
}

func RateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}

// SearchPageKey identifies one page of provider search results. Queries are
// normalized and hashed so arbitrary user text never lands in a key.
func SearchPageKey(provider, query string, page, perPage int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%s:search:%s:%d:%d", provider, hex.EncodeToString(sum[:8]), page, perPage)
}

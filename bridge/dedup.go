// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default dedup cache bounds. The race the cache covers lasts well
// under a second; the window leaves room for slow webhook delivery.
const (
	DefaultDedupSize   = 4096
	DefaultDedupWindow = 10 * time.Minute
	DefaultDedupDelay  = 500 * time.Millisecond
)

// DedupCache remembers comments the bridge posted to GitHub so their
// comment.created echo is not mirrored back into Matrix. It is safe
// for concurrent use.
type DedupCache struct {
	entries *expirable.LRU[string, struct{}]
}

// NewDedupCache returns a cache holding at most size keys, each for at
// most window.
func NewDedupCache(size int, window time.Duration) *DedupCache {
	if size <= 0 {
		size = DefaultDedupSize
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupCache{entries: expirable.NewLRU[string, struct{}](size, nil, window)}
}

// DedupKey is the cache key for one comment: "org/repo#issue~commentID",
// lower-cased.
func DedupKey(org, repo string, issueNumber int, commentID int64) string {
	return strings.ToLower(fmt.Sprintf("%s/%s#%d~%d", org, repo, issueNumber, commentID))
}

// Add records key.
func (c *DedupCache) Add(key string) {
	c.entries.Add(key, struct{}{})
}

// Contains reports whether key was recorded and has not expired.
func (c *DedupCache) Contains(key string) bool {
	return c.entries.Contains(key)
}

// Len returns the number of live entries.
func (c *DedupCache) Len() int {
	return c.entries.Len()
}

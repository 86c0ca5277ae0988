// Package idgen generates lexicographically sortable identifiers.
package idgen

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a monotonic ULID with the given prefix, e.g. "part_01j...".
// IDs created by one process sort in creation order, even within the same millisecond.
func New(prefix string) string {
	mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()

	value := strings.ToLower(id.String())
	if prefix == "" {
		return value
	}
	return prefix + "_" + value
}

// Parse strips the prefix and returns the ULID.
func Parse(value string) (ulid.ULID, error) {
	if _, rest, found := strings.Cut(value, "_"); found {
		value = rest
	}
	return ulid.ParseStrict(strings.ToUpper(value))
}

// Package store provides typed CRUD and range queries over the NLA
// domain entities, plus a chunking helper for queries whose result
// sets must be bounded.
package store

import (
	"github.com/cedadev/nla-control-go/internal/database"
)

// Store is the single entry point for persisting and querying NLA
// domain entities. It wraps the shared *database.DB connection.
type Store struct {
	db *database.DB
}

// New creates a Store backed by db.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// ChunkSize is the maximum number of items passed to fn by Chunk,
// bounding the memory held by queries over very large file sets.
const ChunkSize = 100_000

// Chunk splits ids into batches of at most size and calls fn with each
// batch in turn, stopping at the first error.
func Chunk(ids []string, size int, fn func([]string) error) error {
	if size <= 0 {
		size = ChunkSize
	}
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns n "?" placeholders joined with commas, for
// building an `IN (...)` clause.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func toAnySlice[T any](items []T) []interface{} {
	out := make([]interface{}, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

package interview

import (
	"context"
	"strings"
)

// NewStore picks postgres when a database URL is configured, SQLite when a
// file path is configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	switch {
	case strings.TrimSpace(databaseURL) != "":
		return NewPostgresStore(ctx, databaseURL)
	case strings.TrimSpace(sqlitePath) != "":
		return NewSQLiteStore(ctx, sqlitePath)
	default:
		return NewInMemoryStore(), nil
	}
}

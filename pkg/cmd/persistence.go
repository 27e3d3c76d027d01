package cmd

import (
	"context"
	"strings"

	"github.com/fermata-dev/fermata/pkg/persistence"
	"github.com/fermata-dev/fermata/pkg/persistence/file"
	"github.com/fermata-dev/fermata/pkg/persistence/redis"
)

// NewPersistence creates a persistence layer from a database URL. The
// scheme selects the backend; anything without a recognized scheme is
// treated as a file path.
func NewPersistence(ctx context.Context, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "redis":
		return redis.NewPersistence(ctx, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}

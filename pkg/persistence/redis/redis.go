// Package redis provides Redis-backed persistence for run snapshots.
package redis

import (
	"context"
	"fmt"

	"github.com/fermata-dev/fermata/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

// Persistence implements the persistence layer on a Redis instance.
type Persistence struct {
	client  redis.UniversalClient
	runRepo *RunRepository
}

// NewPersistence connects to the Redis instance described by a redis:// URL.
func NewPersistence(ctx context.Context, databaseURL string) (*Persistence, error) {
	options, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client:  client,
		runRepo: NewRunRepository(client),
	}, nil
}

func (rp *Persistence) Close(_ context.Context) error {
	return rp.client.Close()
}

func (rp *Persistence) HealthCheck(ctx context.Context) error {
	return rp.client.Ping(ctx).Err()
}

func (rp *Persistence) RunRepository() persistence.RunRepository {
	return rp.runRepo
}

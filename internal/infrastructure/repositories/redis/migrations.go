package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "slateboard:schema:version"
	currentSchemaVersion = 1
)

// Migration represents a schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil // No version set, start from 0
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				// Board manifests and slide snapshots are plain
				// key-value records, so the first migration only has
				// to reserve the board index set.
				exists, err := client.Exists(ctx, boardsIndexKey).Result()
				if err != nil {
					return err
				}
				if exists == 0 {
					if err := client.SAdd(ctx, boardsIndexKey, "").Err(); err != nil {
						return err
					}
					client.SRem(ctx, boardsIndexKey, "")
				}
				return nil
			},
		},
	}
}

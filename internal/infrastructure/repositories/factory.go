package repositories

import (
	"slateboard/internal/core/ports"
	filerepo "slateboard/internal/infrastructure/repositories/file"
	"slateboard/internal/infrastructure/repositories/memory"
	redisrepo "slateboard/internal/infrastructure/repositories/redis"
	"slateboard/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates the board and history stores for the configured
// backend, falling back from Redis to the file backend when Redis is
// unreachable at startup.
type StoreFactory struct {
	backend     string
	redisClient *redis.Client
	logger      *zap.SugaredLogger

	boards  ports.BoardStore
	history ports.HistoryStore
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) (*StoreFactory, error) {
	factory := &StoreFactory{
		backend: cfg.Storage.Backend,
		logger:  logger,
	}

	if factory.backend == "redis" {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to file storage",
				"error", err,
			)
			factory.backend = "file"
		} else {
			factory.redisClient = client
		}
	}

	switch factory.backend {
	case "redis":
		boards := redisrepo.NewRedisBoardStore(factory.redisClient)
		factory.boards = boards
		factory.history = redisrepo.NewRedisHistoryStore(factory.redisClient, boards)
		logger.Info("using Redis board store")
	case "file":
		boards, err := filerepo.NewFileBoardStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		history, err := filerepo.NewFileHistoryStore(cfg.Storage.DataDir, boards)
		if err != nil {
			return nil, err
		}
		factory.boards = boards
		factory.history = history
		logger.Infow("using file board store", "data_dir", cfg.Storage.DataDir)
	default:
		boards := memory.NewMemoryBoardStore()
		factory.boards = boards
		factory.history = memory.NewMemoryHistoryStore(boards)
		logger.Info("using in-memory board store")
	}

	return factory, nil
}

// CreateBoardStore returns the backend's board store.
func (f *StoreFactory) CreateBoardStore() ports.BoardStore {
	return f.boards
}

// CreateHistoryStore returns the backend's history store.
func (f *StoreFactory) CreateHistoryStore() ports.HistoryStore {
	return f.history
}

// Close closes backend connections.
func (f *StoreFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/config"
	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultMirrorTimeout = 15 * time.Second
	cacheCleanupInterval = 5 * time.Minute
)

// Container holds all service dependencies
type Container struct {
	config         *config.Config
	logger         *logrus.Logger
	redisClient    *redis.Client
	cancel         context.CancelFunc
	Store          *storage.ArtifactStore
	Orchestrator   *malha.Orchestrator
	MalhaService   MalhaServiceInterface
	CacheService   CacheServiceInterface
	BrowserService BrowserServiceInterface
}

// NewContainer creates a new service container
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	container := &Container{
		config: cfg,
		logger: logger,
	}

	container.initRedis()

	if err := container.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return container, nil
}

// initRedis connects to Redis. The service runs on the memory cache when
// Redis is unreachable.
func (c *Container) initRedis() {
	c.redisClient = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.config.Redis.Host, c.config.Redis.Port),
		Password:     c.config.Redis.Password,
		DB:           c.config.Redis.DB,
		PoolSize:     c.config.Redis.PoolSize,
		DialTimeout:  c.config.Redis.DialTimeout,
		ReadTimeout:  c.config.Redis.ReadTimeout,
		WriteTimeout: c.config.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Redis.DialTimeout)
	defer cancel()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis connection failed, running without cache")
		_ = c.redisClient.Close()
		c.redisClient = nil
	} else {
		c.logger.Info("Redis connection established")
	}
}

// initServices initializes all services
func (c *Container) initServices() error {
	cache := NewCacheService(c.redisClient, c.config.Malha.ResultTTL, c.logger)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	cache.StartCleanupRoutine(ctx, cacheCleanupInterval)
	c.CacheService = cache

	store, err := NewArtifactStore(c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.Store = store

	browserService, err := NewBrowserService(c.config.Browser, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize browser service: %w", err)
	}
	c.BrowserService = browserService

	c.Orchestrator = malha.NewOrchestrator(c.Store, c.config.Malha.PortalOptions(), c.logger)
	c.MalhaService = NewMalhaService(c.config.Malha, c.Orchestrator, c.BrowserService, c.CacheService, c.logger)

	return nil
}

// NewArtifactStore opens the artifact tree, mirrored to MinIO when enabled
func NewArtifactStore(cfg config.StorageConfig, logger *logrus.Logger) (*storage.ArtifactStore, error) {
	var mirror storage.Mirror
	if cfg.Minio.Enabled {
		minio, err := storage.NewMinioMirror(cfg.Minio.MirrorConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MinIO mirror: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultMirrorTimeout)
		defer cancel()
		if err := minio.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare MinIO bucket: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"endpoint": cfg.Minio.Endpoint,
			"bucket":   cfg.Minio.Bucket,
		}).Info("Artifact mirror enabled")
		mirror = minio
	}
	return storage.NewArtifactStore(cfg.Root, mirror, logger), nil
}

// Close closes all service connections
func (c *Container) Close() error {
	var errors []error

	if c.cancel != nil {
		c.cancel()
	}

	// Workers first, they still hold pages
	if c.MalhaService != nil {
		if err := c.MalhaService.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close malha service: %w", err))
		}
	}

	if c.BrowserService != nil {
		if err := c.BrowserService.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close browser service: %w", err))
		}
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errors)
	}

	return nil
}

// Health checks the health of all services
func (c *Container) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if c.CacheService != nil {
		health["cache"] = c.CacheService.Health()
	}
	if c.BrowserService != nil {
		health["browser"] = c.BrowserService.Health()
	}
	if c.MalhaService != nil {
		health["malha"] = c.MalhaService.Health()
	}

	return health
}

// GetRedisClient returns the Redis client
func (c *Container) GetRedisClient() *redis.Client {
	return c.redisClient
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logrus.Logger {
	return c.logger
}

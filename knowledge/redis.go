package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/betpilot/core"
)

// RedisPersister stores one hash per context under
// "<namespace>:locators:<context>", field = element key, value = locator.
type RedisPersister struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// RedisPersisterOptions configures NewRedisPersister.
type RedisPersisterOptions struct {
	RedisURL  string
	Namespace string
	Logger    core.Logger
}

// NewRedisPersister connects to Redis and verifies the connection with PING.
func NewRedisPersister(opts RedisPersisterOptions) (*RedisPersister, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrMissingConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"error":     err,
			"redis_url": opts.RedisURL,
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Error("Failed to connect to Redis", map[string]interface{}{
			"error":     err,
			"namespace": opts.Namespace,
		})
		return nil, fmt.Errorf("failed to connect to Redis: %v: %w", err, core.ErrConnectionFailed)
	}

	logger.Info("Redis knowledge persister connected", map[string]interface{}{
		"namespace": opts.Namespace,
	})
	return NewRedisPersisterWithClient(client, opts.Namespace, logger), nil
}

// NewRedisPersisterWithClient wraps an existing client.
func NewRedisPersisterWithClient(client *redis.Client, namespace string, logger core.Logger) *RedisPersister {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if namespace == "" {
		namespace = "betpilot"
	}
	return &RedisPersister{client: client, namespace: namespace, logger: logger}
}

func (r *RedisPersister) prefix() string {
	return r.namespace + ":locators:"
}

func (r *RedisPersister) key(contextName string) string {
	return r.prefix() + contextName
}

// Load scans every context hash.
func (r *RedisPersister) Load(ctx context.Context) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	iter := r.client.Scan(ctx, 0, r.prefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("hgetall %s: %v: %w", key, err, core.ErrConnectionFailed)
		}
		if len(fields) == 0 {
			continue
		}
		out[strings.TrimPrefix(key, r.prefix())] = fields
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locators: %v: %w", err, core.ErrConnectionFailed)
	}

	r.logger.Debug("Loaded persisted locators", map[string]interface{}{
		"contexts": len(out),
	})
	return out, nil
}

// Save HSETs mapping into the context hash.
func (r *RedisPersister) Save(ctx context.Context, contextName string, mapping map[string]string) error {
	values := make([]interface{}, 0, len(mapping)*2)
	for k, v := range mapping {
		if v == "" {
			continue
		}
		values = append(values, k, v)
	}
	if len(values) == 0 {
		return nil
	}
	if err := r.client.HSet(ctx, r.key(contextName), values...).Err(); err != nil {
		r.logger.Error("Failed to persist locators", map[string]interface{}{
			"error":   err,
			"context": contextName,
		})
		return fmt.Errorf("hset %s: %v: %w", contextName, err, core.ErrConnectionFailed)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisPersister) Close() error {
	return r.client.Close()
}

//go:build integration

// Package testinfra starts the Postgres and Redis containers used by integration tests.
package testinfra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/bidli/backend/pkg/database"
)

// Postgres is a running, migrated Postgres container.
type Postgres struct {
	Pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// StartPostgres starts Postgres and applies the embedded migrations.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bidli"),
		postgres.WithUsername("bidli"),
		postgres.WithPassword("bidli"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{MaxConns: 4}, zap.NewNop())
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	if err := database.Migrate(ctx, pool, zap.NewNop()); err != nil {
		pool.Close()
		_ = c.Terminate(ctx)
		return nil, err
	}
	return &Postgres{Pool: pool, container: c}, nil
}

// Truncate empties every table between tests.
func (p *Postgres) Truncate(t *testing.T) {
	t.Helper()
	_, err := p.Pool.Exec(context.Background(), `TRUNCATE live_streams, posts, seller_profiles, boost_campaigns`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

// Terminate closes the pool and stops the container.
func (p *Postgres) Terminate(ctx context.Context) {
	p.Pool.Close()
	_ = p.container.Terminate(ctx)
}

// Redis is a running Redis container.
type Redis struct {
	Client    *goredis.Client
	container *tcredis.RedisContainer
}

// StartRedis starts Redis and connects a client to it.
func StartRedis(ctx context.Context) (*Redis, error) {
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}
	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("redis endpoint: %w", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{Client: client, container: c}, nil
}

// Flush removes every key between tests.
func (r *Redis) Flush(t *testing.T) {
	t.Helper()
	if err := r.Client.FlushAll(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
}

// Terminate closes the client and stops the container.
func (r *Redis) Terminate(ctx context.Context) {
	_ = r.Client.Close()
	_ = r.container.Terminate(ctx)
}

// Package target owns opening the target connection pool, retrying the
// whole connect step with exponential backoff, and bootstrapping a missing
// target database on a one-shot basis before the retry loop tries again.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/logger"
	"github.com/dbashand/dbreplicate/internal/retry"
	"github.com/dbashand/dbreplicate/internal/runerr"
	"github.com/dbashand/dbreplicate/internal/sqlident"
)

// invalidCatalogName is the SQLSTATE Postgres raises for "database does not
// exist" (pgx surfaces it on *pgconn.PgError.Code).
const invalidCatalogName = "3D000"

// ConnectPolicy is the connect step's backoff schedule: 1000ms base,
// factor 2, 10000ms cap, 3 attempts.
var ConnectPolicy = retry.Policy{
	Base:        1000 * time.Millisecond,
	Factor:      2,
	Cap:         10000 * time.Millisecond,
	MaxAttempts: 3,
}

// Connect opens a pool for cfg's target database, bootstrapping the
// database itself on a one-shot basis if it does not yet exist, and
// retrying the whole step under ConnectPolicy. It returns *connect-failed*
// on exhaustion.
func Connect(ctx context.Context, cfg *config.RunConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	bootstrapped := false

	err := retry.Do(ctx, ConnectPolicy,
		func(attempt int, err error) {
			log.Warnf("target connect attempt %d failed: %v", attempt+1, err)
		},
		func(attempt int) error {
			p, connErr := open(ctx, cfg)
			if connErr == nil {
				pool = p
				return nil
			}

			if !bootstrapped && isMissingDatabase(connErr) {
				bootstrapped = true
				if bootstrapErr := bootstrap(ctx, cfg, log); bootstrapErr != nil {
					return bootstrapErr
				}
				p, connErr = open(ctx, cfg)
				if connErr == nil {
					pool = p
					return nil
				}
			}
			return connErr
		},
	)
	if err != nil {
		return nil, runerr.New(runerr.KindConnectFailed, err)
	}
	return pool, nil
}

// open dials cfg's target connection URL and verifies it with a ping.
func open(ctx context.Context, cfg *config.RunConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.TargetConnectionURL())
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging target: %w", err)
	}
	return pool, nil
}

func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == invalidCatalogName
	}
	return false
}

// bootstrap connects to the engine's administrative "postgres" database and
// creates the configured target database with UTF8 encoding and C collation,
// owned by the configured target user.
func bootstrap(ctx context.Context, cfg *config.RunConfig, log *logger.Logger) error {
	log.Warnf("target database %q does not exist, bootstrapping", cfg.TargetName)

	admin := *cfg
	admin.TargetName = "postgres"
	adminPool, err := pgxpool.New(ctx, admin.TargetConnectionURL())
	if err != nil {
		return fmt.Errorf("opening administrative connection: %w", err)
	}
	defer adminPool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()
	if err := adminPool.Ping(pingCtx); err != nil {
		return fmt.Errorf("pinging administrative connection: %w", err)
	}

	stmt := fmt.Sprintf(
		`CREATE DATABASE %s WITH OWNER = %s TEMPLATE = template0 ENCODING = 'UTF8' LC_COLLATE = 'C' LC_CTYPE = 'C'`,
		sqlident.Quote(cfg.TargetName), sqlident.Quote(cfg.TargetUsername),
	)
	if _, err := adminPool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating database %q: %w", cfg.TargetName, err)
	}
	return nil
}

func connectTimeout(cfg *config.RunConfig) time.Duration {
	return time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
}

package db

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shiftwatch/shiftwatch/pkg/common"
)

const (
	pgMigrationsSchema                = "public"
	pgMigrationsTable                 = "shiftwatch_migrations"
	pgIdleInTransactionSessionTimeout = 10 * time.Second
	pgStatementTimeout                = 10 * time.Second
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

var (
	connectOnce          sync.Once
	globalPool           *pgxpool.Pool
	globalDBErr          error
	errConnectionTimeout = errors.New("connection timeout")
)

type queryTracer struct {
}

func (tracer *queryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData) context.Context {
	slog.Log(ctx, common.LevelTrace, "Starting SQL command", "sql", data.SQL, "args", data.Args, "source", "postgres")
	return context.WithValue(ctx, common.TimeContextKey, time.Now())
}

func (tracer *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		slog.Log(ctx, common.LevelTrace, "SQL command failed", common.ErrAttr(data.Err), "source", "postgres")
	} else {
		t, ok := ctx.Value(common.TimeContextKey).(time.Time)
		if !ok {
			t = time.Now()
		}
		slog.Log(ctx, common.LevelTrace, "SQL command finished", "source", "postgres", "duration", time.Since(t).Milliseconds())
	}
}

func createPgxConfig(ctx context.Context, cfg common.ConfigStore) (*pgxpool.Config, error) {
	dbURL := cfg.Get(common.DatabaseURLKey).Value()
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse Postgres URL", common.ErrAttr(err))
		return nil, err
	}

	config.ConnConfig.Tracer = &queryTracer{}

	config.ConnConfig.RuntimeParams["application_name"] = "shiftwatch"
	config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] =
		strconv.Itoa(int(pgIdleInTransactionSessionTimeout.Milliseconds()))
	config.ConnConfig.RuntimeParams["statement_timeout"] =
		strconv.Itoa(int(pgStatementTimeout.Milliseconds()))

	return config, nil
}

func connectPostgres(ctx context.Context, config *pgxpool.Config, timeout time.Duration) (*pgxpool.Pool, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(timeout)
	for {
		select {
		case <-timeoutExceeded:
			slog.ErrorContext(ctx, "Connection to Postgres failed", "timeout", timeout)
			return nil, errConnectionTimeout

		case <-ticker.C:
			slog.DebugContext(ctx, "Connecting to Postgres...")
			pool, err := pgxpool.NewWithConfig(ctx, config)
			if err == nil {
				if err = pool.Ping(ctx); err == nil {
					return pool, nil
				}
				pool.Close()
			}

			slog.ErrorContext(ctx, "Failed to connect to Postgres", common.ErrAttr(err))
		}
	}
}

// Connect establishes the process-wide pgx pool, retrying every second
// until timeout.
func Connect(ctx context.Context, cfg common.ConfigStore, timeout time.Duration) (*pgxpool.Pool, error) {
	connectOnce.Do(func() {
		config, err := createPgxConfig(ctx, cfg)
		if err != nil {
			globalDBErr = err
			return
		}

		globalPool, globalDBErr = connectPostgres(ctx, config, timeout)
	})
	return globalPool, globalDBErr
}

func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, up bool) error {
	db := stdlib.OpenDBFromPool(pool)

	mlog := slog.With("up", up)
	ctx = common.TraceContext(ctx, "postgres")

	d, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		mlog.ErrorContext(ctx, "Failed to read from Postgres migrations IOFS", common.ErrAttr(err))
		return err
	}

	// NOTE: beware the run migrations twice problem with migrate, related to search_path
	// https://github.com/golang-migrate/migrate/blob/master/database/postgres/TUTORIAL.md#fix-issue-where-migrations-run-twice
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{
		MigrationsTable: pgMigrationsTable,
		SchemaName:      pgMigrationsSchema,
	})
	if err != nil {
		mlog.ErrorContext(ctx, "Failed to create migrate driver", common.ErrAttr(err))
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		mlog.ErrorContext(ctx, "Failed to create migration engine for Postgres", common.ErrAttr(err))
		return err
	}

	defer func() {
		srcErr, dstErr := m.Close()
		if srcErr != nil {
			mlog.ErrorContext(ctx, "Source error when running migrations", common.ErrAttr(srcErr))
		}
		if dstErr != nil {
			mlog.ErrorContext(ctx, "Destination error when running migrations", common.ErrAttr(dstErr))
		}
		mlog.DebugContext(ctx, "Closed Postgres migrate connection")
	}()

	mlog.DebugContext(ctx, "Running Postgres migrations...")
	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && err != migrate.ErrNoChange {
		mlog.ErrorContext(ctx, "Failed to apply migrations in Postgres", common.ErrAttr(err))
		return err
	}

	mlog.DebugContext(ctx, "Postgres migrated", "changes", (err != migrate.ErrNoChange))

	return nil
}

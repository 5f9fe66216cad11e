package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
)

// Connections bundles writer and reader bun instances. Stock and payment
// writes always go through Writer; Reader serves listings and reports.
type Connections struct {
	Driver string
	Writer *bun.DB
	Reader *bun.DB
}

// Ping checks both pools.
func (c *Connections) Ping(ctx context.Context) error {
	if err := c.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if c.Reader != nil && c.Reader != c.Writer {
		if err := c.Reader.PingContext(ctx); err != nil {
			return fmt.Errorf("ping reader: %w", err)
		}
	}
	return nil
}

// Module registers the database connections with Fx.
var Module = fx.Provide(New)

// New establishes writer and reader pools backed by Bun.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Connections, error) {
	dial, err := selectDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	hook := &SlowQueryHook{Threshold: cfg.Database.SlowQuery, Logger: logger}

	writer, err := open(cfg.Database, cfg.Database.WriterDSN, dial, hook)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}

	reader := writer
	if cfg.Database.ReaderDSN != cfg.Database.WriterDSN {
		if reader, err = open(cfg.Database, cfg.Database.ReaderDSN, dial, hook); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("open reader: %w", err)
		}
	}

	conns := &Connections{Driver: cfg.Database.Driver, Writer: writer, Reader: reader}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := conns.Ping(pingCtx); err != nil {
				return err
			}
			logger.Info("database connected",
				zap.String("driver", cfg.Database.Driver),
				zap.Bool("replica", reader != writer),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var closeErr error
			if err := writer.Close(); err != nil {
				closeErr = fmt.Errorf("close writer: %w", err)
			}
			if reader != writer {
				if err := reader.Close(); err != nil && closeErr == nil {
					closeErr = fmt.Errorf("close reader: %w", err)
				}
			}
			return closeErr
		},
	})

	return conns, nil
}

func open(cfg config.Database, dsn string, dial schema.Dialect, hook bun.QueryHook) (*bun.DB, error) {
	sqldb, err := openSQLDB(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	applyPoolSettings(sqldb, cfg)

	db := bun.NewDB(sqldb, dial)
	if hook != nil {
		db.AddQueryHook(hook)
	}
	return db, nil
}

func selectDialect(driver string) (schema.Dialect, error) {
	switch driver {
	case "postgres":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	case "sqlite":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func openSQLDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}

	switch driver {
	case "postgres":
		connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
		return sql.OpenDB(connector), nil
	case "mysql":
		return sql.Open("mysql", dsn)
	case "sqlite":
		return sql.Open("sqlite3", dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func applyPoolSettings(db *sql.DB, cfg config.Database) {
	if cfg.Driver == "sqlite" {
		// one writer at a time; concurrent sqlite writers fail with SQLITE_BUSY
		db.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
}

// SlowQueryHook logs statements that fail or run longer than Threshold.
type SlowQueryHook struct {
	Threshold time.Duration
	Logger    *zap.Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if h.Logger == nil {
		return
	}
	elapsed := time.Since(event.StartTime)

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.Logger.Warn("query failed",
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.Error(event.Err),
		)
	case h.Threshold > 0 && elapsed >= h.Threshold:
		h.Logger.Warn("slow query",
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("query", event.Query),
		)
	}
}

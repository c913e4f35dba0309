package main

import (
	"context"
	"hastebin/cfg"
	"hastebin/svc/api"
	"hastebin/svc/cache"
	"hastebin/svc/db"
	"hastebin/svc/svc"
	"hastebin/svc/util"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	util.InitLog("info", false)
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")

	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck(c))
	}
	util.Info().Msg("starting hastebin")

	sqlDB, err := openStore(c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().
		Str("driver", sqlDB.Driver()).
		Str("dsn", util.RedactDSN(c.DSN())).
		Str("table", c.DatabaseTable).
		Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis configured but unreachable")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode), continuing without it")
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize, c.CacheTTL)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
		os.Exit(1)
	}
	util.Info().Int("size", c.LRUCacheSize).Dur("ttl", c.CacheTTL).Msg("LRU cache initialized")

	alloc, err := util.NewAllocator(c.KeyLength, nil)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create id allocator")
		os.Exit(1)
	}
	pasteSvc := svc.NewPaste(sqlDB, lruCache, rdb, alloc, c)
	util.Info().
		Int("key_length", alloc.KeyLength()).
		Int64("key_space", alloc.PrimarySpace()).
		Int("create_retries", c.CreateRetries).
		Msg("paste service initialized")

	server := api.NewServer(c, pasteSvc, sqlDB, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	if sqlDB.IsSQLite() {
		g.Go(func() error {
			db.StartWALMaintenance(gctx, sqlDB.DB(), db.CheckpointInterval)
			return nil
		})
		util.Info().Msg("WAL maintenance worker started")
	}
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		pasteSvc.Shutdown()
		return nil
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	util.Info().Msg("Shutdown complete")
}
func openStore(c *cfg.Cfg) (*db.SQL, error) {
	return db.Open(db.Options{
		Driver:       c.DatabaseDriver,
		DSN:          c.DSN(),
		Table:        c.DatabaseTable,
		AutoMigrate:  c.DBAutoMigrate,
		MaxOpenConns: c.DBMaxOpenConns,
		MaxIdleConns: c.DBMaxIdleConns,
		QueryTimeout: c.DBQueryTimeout,
	})
}

// healthCheck is used by container probes: exit 0 when the database answers.
func healthCheck(c *cfg.Cfg) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o := db.Options{Driver: c.DatabaseDriver, DSN: c.DSN(), Table: c.DatabaseTable, MaxOpenConns: 1}
	sqlDB, err := db.Open(o)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

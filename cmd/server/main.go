package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/funnel-studio/internal/api"
	"github.com/ignite/funnel-studio/internal/config"
	"github.com/ignite/funnel-studio/internal/draft"
	"github.com/ignite/funnel-studio/internal/editor"
	"github.com/ignite/funnel-studio/internal/pkg/distlock"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"github.com/ignite/funnel-studio/internal/publish"
	"github.com/ignite/funnel-studio/internal/repository/postgres"
	"github.com/ignite/funnel-studio/internal/service/funnel"
	"github.com/ignite/funnel-studio/internal/storage"
	"github.com/ignite/funnel-studio/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	logger.Sync()
	os.Exit(1)
}

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	logger.Configure(logger.ParseLevel(cfg.Log.Level), cfg.Log.Development, cfg.Log.Redact())
	defer logger.Sync()

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal("pre-flight check failed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.Database.URL == "" {
		fatal("database url is required", errors.New("set DATABASE_URL or database.url"))
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Database.Timeout())
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		fatal("failed to ping database", err)
	}
	logger.Info("connected to database")

	// Redis is optional: drafts fall back to DynamoDB or are disabled, and
	// save locks fall back to PG advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis connection failed, continuing without it", "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			logger.Info("redis connected")
		}
		pingCancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	drafts := draft.NewService(draftCache(ctx, cfg.Drafts, redisClient))
	// Settle draft availability now rather than on the first request.
	logger.Info("draft cache", "enabled", drafts.Enabled(ctx))

	locks := distlock.NewLocker(redisClient, db, 30*time.Second)
	repo := postgres.NewFunnelRepo(db)
	funnels := funnel.NewService(repo, locks)
	sessions := editor.NewRegistry(funnels, drafts, editor.Options{MaxHistory: cfg.History.MaxSize})

	specs := make([]publish.RuleSpec, 0, len(cfg.Publish.Rules))
	for _, r := range cfg.Publish.Rules {
		specs = append(specs, publish.RuleSpec{
			Name:     r.Name,
			Severity: publish.Severity(r.Severity),
			Expr:     r.Expr,
			Message:  r.Message,
		})
	}
	rules, err := publish.CompileRules(specs)
	if err != nil {
		fatal("invalid publish rules", err)
	}

	archive, err := storage.New(ctx, cfg.Export)
	if err != nil {
		fatal("failed to initialize export archive", err)
	}
	publisher := publish.NewService(repo, publish.NewValidator(repo, rules), archive)

	autosave := worker.NewAutoSaveWorker(sessions, worker.AutoSaveConfig{
		SnapshotInterval: cfg.Drafts.SnapshotInterval(),
		CommitInterval:   cfg.Drafts.CommitInterval(),
		AutoCommit:       cfg.Drafts.AutoCommit,
	})
	autosave.Start(ctx)

	handlers := api.NewHandlers(funnels, sessions, publisher, api.NewHealthChecker(db, redisClient))
	server := api.NewServer(cfg.Server, handlers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			fatal("server error", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	autosave.Stop()
	cancel()

	// Last snapshot so in-flight edits survive the restart.
	if n, err := autosave.SnapshotOnce(shutdownCtx); err != nil {
		logger.Warn("final draft snapshot incomplete", "snapshotted", n, "error", err)
	}
	logger.Info("server stopped")
}

// draftCache picks the configured draft backend. A nil cache disables drafts.
func draftCache(ctx context.Context, cfg config.DraftsConfig, redisClient *redis.Client) draft.Cache {
	switch cfg.Backend {
	case "dynamodb":
		c, err := draft.NewDynamoCacheFromConfig(ctx, cfg.DynamoDBTable, cfg.AWSRegion, cfg.AWSProfile, cfg.TTL())
		if err != nil {
			logger.Warn("dynamodb draft cache unavailable, drafts disabled", "error", err)
			return nil
		}
		logger.Info("draft cache: dynamodb", "table", cfg.DynamoDBTable)
		return c
	default:
		if redisClient == nil {
			logger.Warn("redis not configured, drafts disabled")
			return nil
		}
		logger.Info("draft cache: redis")
		return draft.NewRedisCache(redisClient, cfg.TTL())
	}
}

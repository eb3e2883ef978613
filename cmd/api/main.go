package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/config"
	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/handler"
	"github.com/zhouzirui/camp-guide/backend/internal/model/agent"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/pkg/logger"
	"github.com/zhouzirui/camp-guide/backend/internal/repository/campdb"
	"github.com/zhouzirui/camp-guide/backend/internal/service/ai"
	"github.com/zhouzirui/camp-guide/backend/internal/service/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/filter"
	"github.com/zhouzirui/camp-guide/backend/internal/service/profile"
	"github.com/zhouzirui/camp-guide/backend/internal/service/search"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("未找到 .env 文件，仅使用系统环境变量", zap.Error(envErr))
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	repo, closeRepo, err := openRepository(ctx, cfg.Catalog, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	records, err := repo.Query(ctx, camp.FilterCriteria{})
	if err != nil {
		return fmt.Errorf("load camp locations: %w", err)
	}
	categories, err := repo.Categories(ctx)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	geocoder := geo.NewTableGeocoder()
	campdb.RegisterLocations(geocoder, records)
	parser := criteria.NewParser(criteria.Vocabulary{
		Categories: categories,
		Places:     campdb.Places(records),
	})
	log.Info("camp catalog ready",
		zap.String("backend", cfg.Catalog.Backend),
		zap.Int("camps", len(records)),
		zap.Int("categories", len(categories)),
	)

	sessions, closeStore, err := openSessions(ctx, cfg.Session, log)
	if err != nil {
		return err
	}
	defer closeStore()

	agents := agent.NewMemoryStore(agent.Seed())

	// AI 是可选能力：未配置凭证时通用问答返回静态帮助。
	var (
		completion chat.Completer
		assist     filter.Extractor
	)
	if cfg.AI.Enabled() {
		aiSvc, err := newAIService(ctx, cfg.AI, agents, log)
		if err != nil {
			log.Warn("AI 服务初始化失败，继续以无 AI 模式运行", zap.Error(err))
		} else {
			completion = aiSvc
			if cfg.AI.CriteriaAssist {
				assist = aiSvc
			}
			log.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		log.Info("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	orch, err := chat.NewOrchestrator(chat.Deps{
		Sessions:   sessions,
		Classifier: intent.NewClassifier(parser),
		Profile:    profile.NewFSM(repo, log),
		Search: search.NewExecutor(repo, parser, geocoder, nil, search.Options{
			DistanceWorkers: cfg.Search.DistanceWorkers,
		}, log),
		Filter:     filter.New(assist, log),
		Completion: completion,
		Categories: repo,
		Composer:   chat.NewComposer(cfg.Search.DisplayLimit, nil),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	router := handler.NewRouter(handler.Deps{
		Chat:        orch,
		AIEnabled:   completion != nil,
		Camps:       repo,
		Agents:      agents,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	return startServer(ctx, cfg.Server, router, log)
}

func openRepository(ctx context.Context, cfg config.CatalogConfig, log *zap.Logger) (campdb.Repository, func(), error) {
	if cfg.Backend != "postgres" {
		catalog, err := campdb.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
		return catalog, func() {}, nil
	}

	db, err := campdb.OpenPostgres(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	repo := campdb.NewPostgresRepository(db, campdb.PostgresOptions{
		QueryTimeout:  cfg.QueryTimeout,
		RetryAttempts: uint(cfg.RetryAttempts),
	}, log)

	if cfg.SeedPostgres {
		seed, err := campdb.LoadCatalog(cfg.CatalogPath)
		if err == nil {
			err = repo.Migrate(ctx)
		}
		if err == nil {
			var records []camp.Record
			records, err = seed.Query(ctx, camp.FilterCriteria{})
			if err == nil {
				err = repo.Seed(ctx, records)
			}
		}
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("seed postgres: %w", err)
		}
		log.Info("postgres camp table migrated and seeded")
	}
	return repo, closeDB, nil
}

// openSessions 在 redis 模式下同时启用跨进程会话锁，多副本共享同一个 redis 时同一会话的轮次仍然串行。
func openSessions(ctx context.Context, cfg config.SessionConfig, log *zap.Logger) (*session.Manager, func(), error) {
	if cfg.Backend != "redis" {
		store := session.NewMemoryStore(cfg.TTL, cfg.CleanupInterval)
		return session.NewManager(store, log), func() {}, nil
	}

	store, err := session.NewRedisStore(cfg.RedisURL, cfg.TTL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	locker := session.NewRedisLocker(store.Client(), session.RedisLockerOptions{TTL: cfg.LockTTL}, log)
	return session.NewManager(store, log, session.WithLocker(locker)), func() { _ = store.Close() }, nil
}

func newAIService(ctx context.Context, cfg config.AIConfig, agents agent.Store, log *zap.Logger) (*ai.Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	return ai.NewService(ctx, chatModel, agents, ai.Options{HistoryLimit: cfg.HistoryLimit}, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("camp guide backend listening", zap.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

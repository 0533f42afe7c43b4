package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"vanishing.keys/config"
	"vanishing.keys/internal/api"
	"vanishing.keys/internal/secrets"
	"vanishing.keys/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, _ := cfg.LogLevel()
	logger := clog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = clog.WithLogger(ctx, logger)

	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	defaultDuration, _ := cfg.DefaultDuration()
	svc, err := secrets.NewService(st, secrets.Options{
		DefaultDuration: defaultDuration,
		Grace:           cfg.Secrets.GracePeriod,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.SetupRouter(svc, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	if expirer, ok := st.(store.Expirer); ok {
		reaper := store.NewReaper(expirer, cfg.Store.ReapInterval, nil)
		if err := reaper.Start(ctx); err != nil {
			return err
		}
		defer reaper.Stop()
	}

	g.Go(func() error {
		logger.Infof("server starting on %s (store: %s)", cfg.Addr(), cfg.Store.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case config.StoreRedis:
		st, err := store.NewRedisStore(&redis.Options{
			Addr:        cfg.Store.Redis.Addr,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			DialTimeout: cfg.Store.Redis.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return st, nil
	case config.StoreLibSQL:
		st, err := store.NewLibSQLStore(ctx, cfg.Store.LibSQL.Path)
		if err != nil {
			return nil, fmt.Errorf("libsql open failed: %w", err)
		}
		return st, nil
	case config.StorePostgres:
		st, err := store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

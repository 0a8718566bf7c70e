package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"manutai/internal/usertoken"
	"manutai/internal/util"
	"manutai/pkg/ai"
	"manutai/pkg/inspection"
	"manutai/pkg/storage"
	"manutai/pkg/store"
	"manutai/services/inspection/internal/app"
	"manutai/services/inspection/internal/config"
	"manutai/services/inspection/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	_, closeLog := util.InitLogger(cfg.LogLevel, "inspection", cfg.LogsDir, "../../logs")
	if closeLog != nil {
		defer closeLog()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		util.Fatal("failed to open store", "driver", cfg.StoreDriver, "err", err)
	}
	defer closeKV()

	generator := inspection.NewGenerator(nil)
	if cfg.GenerationEnabled() {
		llm, err := ai.NewGenerator(ai.ProviderConfig{
			Provider: cfg.GenerationProvider,
			BaseURL:  cfg.GenerationBaseURL,
			APIKey:   cfg.GenerationAPIKey,
			Model:    cfg.GenerationModel,
		})
		if err != nil {
			util.Fatal("failed to init generation provider", "provider", cfg.GenerationProvider, "err", err)
		}
		generator = inspection.NewGenerator(llm)
	}
	genTimeout, _ := config.ParseDuration("generationTimeout", cfg.GenerationTimeout)
	generator.SetTimeout(genTimeout)

	tokenTTL, _ := config.ParseDuration("tokenTTL", cfg.TokenTTL)
	tokens, err := usertoken.NewManager(usertoken.Config{Secret: cfg.TokenSecret, TTL: tokenTTL})
	if err != nil {
		util.Fatal("failed to init token manager", "err", err)
	}

	var archive *storage.Archive
	if cfg.ArchiveEnabled() {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "endpoint", cfg.MinioEndpoint, "err", err)
		}
		expiry, _ := config.ParseDuration("archiveURLExpiry", cfg.ArchiveURLExpiry)
		archive = storage.NewArchive(objects, expiry)
	}

	loc, err := time.LoadLocation(strings.TrimSpace(cfg.TimeZone))
	if err != nil {
		util.Fatal("invalid time zone", "tz", cfg.TimeZone, "err", err)
	}
	delay, _ := config.ParseDuration("questionDelay", cfg.QuestionDelay)
	idle, _ := config.ParseDuration("sessionIdleTimeout", cfg.SessionIdleTimeout)

	appCore, err := app.New(ctx, app.Config{
		Store:              store.NewCollectionStore(kv),
		Generator:          generator,
		Tokens:             tokens,
		Archive:            archive,
		Location:           loc,
		QuestionDelay:      delay,
		SessionIdleTimeout: idle,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}
	httpServer, err := server.New(server.Config{App: appCore, TrustedProxies: trusted})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "store", cfg.StoreDriver, "generation", !generator.Degraded(), "archive", archive != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		appCore.SweepSessions(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
}

// openKV returns the blob store for cfg.StoreDriver and its release func.
func openKV(ctx context.Context, cfg config.FileConfig) (store.KV, func(), error) {
	switch cfg.StoreDriver {
	case "redis":
		kv, err := store.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, nil, err
		}
		return kv, closer(kv), nil
	case "postgres", "sqlite":
		kv, err := store.NewGormKV(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return kv, closer(kv), nil
	default:
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryKV(), func() {}, nil
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("store close failed", "err", err)
		}
	}
}

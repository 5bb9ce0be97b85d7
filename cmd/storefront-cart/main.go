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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront-cart/internal/auth"
	"github.com/fjod/go_cart/storefront-cart/internal/cartsync"
	"github.com/fjod/go_cart/storefront-cart/internal/clock"
	"github.com/fjod/go_cart/storefront-cart/internal/config"
	"github.com/fjod/go_cart/storefront-cart/internal/events"
	h "github.com/fjod/go_cart/storefront-cart/internal/http"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/fjod/go_cart/storefront-cart/internal/persistence"
	"github.com/fjod/go_cart/storefront-cart/internal/remote"
	"github.com/fjod/go_cart/storefront-cart/internal/session"
	"github.com/fjod/go_cart/storefront-cart/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront-cart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("storefront-cart", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	port := flags.String("port", "", "HTTP listen port")
	backendURL := flags.String("backend-url", "", "base URL of the backend cart API")
	storage := flags.String("storage", "", "guest cart storage: file, redis, mongo or memory")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("port") {
		cfg.HTTP.Port = *port
	}
	if flags.Changed("backend-url") {
		cfg.Backend.BaseURL = *backendURL
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver = *storage
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot, closeSlot, err := openSlot(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer closeSlot()

	signedIn := auth.NewSignal()
	client, err := remote.NewClient(remote.Config{
		BaseURL:     cfg.Backend.BaseURL,
		Timeout:     cfg.Backend.Timeout,
		MaxFailures: cfg.Backend.BreakerMaxFailures,
		OpenTimeout: cfg.Backend.BreakerOpenTimeout,
	}, signedIn, log)
	if err != nil {
		return err
	}

	cart := store.New()
	coordinator := cartsync.NewCoordinator(client, cart, cartsync.Config{
		Debounce:       cfg.Sync.Debounce,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		RequestTimeout: cfg.Sync.RequestTimeout,
	}, clock.Real(), log)

	sess := session.New(cart, persistence.NewAdapter(slot, log), coordinator, signedIn, session.Config{
		LoginTimeout: cfg.Sync.RequestTimeout,
	}, log)
	if err := sess.Init(ctx); err != nil {
		// the guest cart is still usable without the backend
		log.Warn("initial cart load failed", zap.Error(err))
	}
	defer sess.Teardown()

	if len(cfg.Kafka.Brokers) > 0 {
		listener := events.NewCheckoutListener(sess, cfg.Kafka.GroupID, log, cfg.Kafka.Brokers...)
		defer listener.Close()
		go listener.Run(ctx)
		log.Info("checkout listener started", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	handler := h.NewCartHandler(sess, cfg.HTTP.RequestTimeout, log)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      h.NewRouter(handler, cfg.HTTP.RequestTimeout, cfg.HTTP.MaxRequestBodySize),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("storefront cart starting", zap.String("port", cfg.HTTP.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func openSlot(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (persistence.Slot, func(), error) {
	switch cfg.Driver {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("guest cart stored in redis", zap.String("addr", cfg.RedisAddr))
		return persistence.NewRedisSlot(client, cfg.GuestID, cfg.RedisTTL), func() { _ = client.Close() }, nil

	case config.StorageMongo:
		db, err := persistence.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		slot := persistence.NewMongoSlot(db, cfg.GuestID)
		if err := slot.CreateIndexes(ctx, cfg.MongoTTL); err != nil {
			log.Warn("failed to create snapshot indexes", zap.Error(err))
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(dctx)
		}
		log.Info("guest cart stored in mongodb", zap.String("database", cfg.MongoDatabase))
		return slot, disconnect, nil

	case config.StorageMemory:
		return persistence.NewMemorySlot(), func() {}, nil

	default:
		log.Info("guest cart stored on disk", zap.String("path", cfg.FilePath))
		return persistence.NewFileSlot(cfg.FilePath), func() {}, nil
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/logging"
	"github.com/Tyrowin/chatroom/internal/server"
	"github.com/Tyrowin/chatroom/internal/store"
)

// backends holds what main opens and must close on the way out.
type backends struct {
	messages chat.MessageStore
	users    chat.IdentityResolver
	db       *gorm.DB
	redis    *redis.Client
}

func (b *backends) close(logger *slog.Logger) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Warn("Error closing redis client", slog.Any("error", err))
		}
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("Error closing database", slog.Any("error", err))
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default ./chatroom.yaml)")
	flag.Parse()

	cfg, err := server.LoadConfig(logging.New("info", logging.FormatText), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("Starting chatroom server...",
		slog.String("port", cfg.Port),
		slog.String("store", cfg.Store.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open backends", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := chat.New(chat.Options{
		Store:       b.messages,
		Resolver:    b.users,
		Logger:      logger,
		BacklogSize: cfg.BacklogSize,
	})
	if err != nil {
		logger.Error("Failed to create chat engine", slog.Any("error", err))
		os.Exit(1)
	}
	go engine.Run(ctx)

	srv, err := server.New(ctx, cfg, engine, logger)
	if err != nil {
		logger.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}
	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	go func() {
		if err := server.StartServer(httpServer); err != nil {
			logger.Error("HTTP server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chatroom": func(ctx context.Context) error {
				logger.Info("Graceful shutdown initiated...")
				err := server.ShutdownServer(ctx, httpServer)

				// Stopping the engine closes every sink, which ends the pumps.
				cancel()
				<-engine.Done()
				if herr := srv.Hub().Shutdown(cfg.ShutdownTimeout); herr != nil && err == nil {
					err = herr
				}

				b.close(logger)
				return err
			},
		},
	)

	exitCode := <-wait
	logger.Info("Application exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}

func openBackends(ctx context.Context, cfg *server.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	seeds := make([]chat.Identity, 0, len(cfg.Identity.Users))
	for _, u := range cfg.Identity.Users {
		seeds = append(seeds, chat.Identity{UserID: u.ID, Username: u.Username, Role: chat.Role(u.Role)})
	}

	switch cfg.Store.Driver {
	case server.StoreSQLite:
		db, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.db = db

		messages, err := store.NewSQLite(db)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		users, err := identity.NewStore(db)
		if err != nil {
			b.close(logger)
			return nil, err
		}
		if err := users.Upsert(ctx, seeds...); err != nil {
			b.close(logger)
			return nil, fmt.Errorf("seed users: %w", err)
		}
		b.messages = messages
		b.users = users

	case server.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		b.redis = client

		messages := store.NewRedis(client, cfg.Store.RedisPrefix)
		if err := messages.Ping(ctx); err != nil {
			b.close(logger)
			return nil, err
		}
		b.messages = messages
		b.users = identity.NewDirectory(seeds...)

	default:
		b.messages = store.NewMemory()
		b.users = identity.NewDirectory(seeds...)
	}

	logger.Info("Backends ready",
		slog.String("store", cfg.Store.Driver),
		slog.Int("seededUsers", len(seeds)),
		slog.Duration("identityCacheTTL", cfg.Identity.CacheTTL))
	b.users = identity.NewCache(b.users, cfg.Identity.CacheTTL)
	return b, nil
}

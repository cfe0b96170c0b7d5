package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat-relay/internal/auth"
	"github.com/Tyrowin/gochat-relay/internal/credential"
	"github.com/Tyrowin/gochat-relay/internal/gate"
	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/password"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/token"
)

// Mode selects which services an App runs.
type Mode string

const (
	ModeAuth Mode = "auth"
	ModeChat Mode = "chat"
	ModeAll  Mode = "all"
)

// App owns the components of one server process.
type App struct {
	cfg    Config
	mode   Mode
	logger *slog.Logger

	db     *sql.DB
	rdb    *redis.Client
	broker relay.Broker
	hub    *Hub
	relay  *relay.Relay

	cancelSubs context.CancelFunc
}

// NewApp validates mode and returns an unstarted App.
func NewApp(cfg Config, mode Mode, logger *slog.Logger) (*App, error) {
	switch mode {
	case ModeAuth, ModeChat, ModeAll:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	return &App{
		cfg:    cfg.Sanitized(),
		mode:   mode,
		logger: logging.OrDefault(logger),
	}, nil
}

// Hub returns the chat hub, or nil when the chat service is not part of the App.
func (a *App) Hub() *Hub {
	return a.hub
}

// Build constructs every component for the App's mode and returns the HTTP
// handler serving them. Call Close to release what Build acquired.
func (a *App) Build(ctx context.Context) (http.Handler, error) {
	codec, err := token.NewCodec(token.Config{
		Secret:    []byte(a.cfg.Token.Secret),
		TTL:       a.cfg.Token.Expiration,
		Algorithm: a.cfg.Token.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	var (
		authHandler *AuthHandler
		chatHandler *ChatHandler
	)
	if a.mode != ModeChat {
		if authHandler, err = a.buildAuth(ctx, codec); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}
	if a.mode != ModeAuth {
		if chatHandler, err = a.buildChat(ctx, codec); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}

	return SetupRoutes(authHandler, chatHandler), nil
}

func (a *App) buildAuth(ctx context.Context, codec *token.Codec) (*AuthHandler, error) {
	var store credential.Store
	if a.cfg.DatabaseURL == "" {
		a.logger.Warn("DATABASE_URL not set; credentials are kept in memory")
		store = credential.NewMemoryStore()
	} else {
		db, err := credential.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		if err := credential.Migrate(ctx, db); err != nil {
			return nil, err
		}
		store = credential.NewPostgresStore(db)
	}

	hasher, err := password.New(a.cfg.PasswordHasher)
	if err != nil {
		return nil, err
	}

	svc := auth.NewService(store, hasher, codec, a.logger.With("component", "auth"))
	return NewAuthHandler(svc, a.cfg.HideUnknownUsers, a.logger.With("component", "auth_http")), nil
}

func (a *App) buildChat(ctx context.Context, codec *token.Codec) (*ChatHandler, error) {
	relayLogger := a.logger.With("component", "relay")
	if a.cfg.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set; messages only reach clients of this instance")
		a.broker = relay.NewMemoryBroker(relayLogger)
	} else {
		rdb, err := relay.NewRedisClient(a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.broker = relay.NewRedisBroker(rdb, relayLogger)
	}

	a.hub = NewHub(a.logger.With("component", "hub"))
	go a.hub.Run()

	a.relay = relay.New(a.broker, a.cfg.Channel, a.hub, relayLogger)
	subCtx, cancel := context.WithCancel(context.Background())
	a.cancelSubs = cancel
	if err := a.relay.Start(subCtx); err != nil {
		return nil, err
	}

	g := gate.New(codec, a.logger.With("component", "gate"))
	return NewChatHandler(a.cfg, a.hub, g, a.relay, a.logger.With("component", "chat")), nil
}

// Close stops the hub and releases broker and database connections.
func (a *App) Close() error {
	var errs []error

	if a.cancelSubs != nil {
		a.cancelSubs()
	}
	if a.hub != nil {
		if err := a.hub.Shutdown(a.cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker close: %w", err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	a.hub, a.broker, a.rdb, a.db, a.cancelSubs = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// Addr is the listen address for the App's mode.
func (a *App) Addr() string {
	if a.mode == ModeAuth {
		return a.cfg.AuthPort
	}
	return a.cfg.Port
}

// Run builds the App, serves until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Build(ctx)
	if err != nil {
		return err
	}

	srv := CreateServer(a.Addr(), handler)
	errCh := make(chan error, 1)
	go func() {
		errCh <- StartServer(srv, a.logger)
	}()

	select {
	case err = <-errCh:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutdown signal received", "mode", a.mode)
		err = ShutdownServer(srv, a.cfg.ShutdownTimeout, a.logger)
	}

	return errors.Join(err, a.Close())
}

// Migrate applies the credential schema to cfg.DatabaseURL.
func Migrate(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}

	db, err := credential.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := credential.Migrate(ctx, db); err != nil {
		return err
	}
	logging.OrDefault(logger).Info("migrations applied")
	return nil
}

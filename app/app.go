package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/relay/core"
	"github.com/putto11262002/relay/pkg/router"
	"github.com/putto11262002/relay/pkg/runner"
)

type App struct {
	config  *Config
	db      *core.SQLiteDB
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router

	registry *core.Registry
	presence *core.PresenceTracker
	rooms    *core.RoomSet
	gateway  *core.Gateway

	auth  core.Authenticator
	store core.MessageStore

	startedAt time.Time

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.auth = core.NewJWTAuthenticator([]byte(app.config.Auth.Secret))
	app.store = core.NewSQLiteMessageStore(app.db.DB)

	app.registry = core.NewRegistry(app.context, &app.wg, app.logger,
		core.WithHeartbeatInterval(app.config.Heartbeat.Interval))
	app.presence = core.NewPresenceTracker()
	app.rooms = core.NewRoomSet()
	app.gateway = core.NewGateway(app.context, app.logger, app.registry,
		app.presence, app.rooms, app.auth, app.store)

	authMiddleware := AuthMiddleware(app.auth)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// the connection is inert until it authenticates over the socket, so the
	// upgrade itself is unauthenticated
	app.router.Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.registry.Register(w, r); err != nil {
			app.logger.Error(fmt.Sprintf("register connection: %v", err))
		}
	})

	app.router.Get("/health", app.HealthHandler)

	api := router.New(router.WithLogger(app.logger))
	api.Use(authMiddleware)
	api.Get("/online-users", app.OnlineUsersHandler)
	api.Get("/chat/{chatID}/messages", app.ChatMessagesHandler)

	app.router.Mount("/api", api)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

// Start runs the gateway and the HTTP server until the app context is
// cancelled or a component fails, then shuts everything down.
func (app *App) Start() error {
	app.startedAt = time.Now()
	app.gateway.Listen()

	run := runner.New(app.context)

	run.Go(func() error {
		app.logger.Info(fmt.Sprintf("relay listening on %s:%d", app.config.Hostname, app.config.Port))
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	run.Go(func() error {
		<-run.Context().Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()

		app.server.Shutdown(closeCtx)
		app.registry.Close()
		if err := app.gateway.Close(closeCtx); err != nil {
			app.logger.Error(fmt.Sprintf("gateway shutdown: %v", err))
		}
		return nil
	})

	err := run.Wait()

	// wait for connection pumps to drain before closing the database
	app.wg.Wait()
	app.db.Close()

	if err != nil {
		app.logger.Error(fmt.Sprintf("app exited with error: %v", err))
		return err
	}
	app.logger.Info("app shutdown gracefully")
	return nil
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}

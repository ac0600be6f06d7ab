package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/auth"
	"github.com/ukydev/loaner-command-center/internal/config"
	"github.com/ukydev/loaner-command-center/internal/dashboard"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/fleet"
	"github.com/ukydev/loaner-command-center/internal/handlers"
	"github.com/ukydev/loaner-command-center/internal/logging"
	"github.com/ukydev/loaner-command-center/internal/middleware"
	"github.com/ukydev/loaner-command-center/internal/notify"
	"github.com/ukydev/loaner-command-center/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

// run wires the service and blocks until shutdown. Errors are returned so
// deferred cleanup runs before the process exits.
func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := buildStore(ctx, cfg.Datastore)
	if err != nil {
		return fmt.Errorf("failed to connect to %s datastore: %w", cfg.Datastore.Backend, err)
	}
	defer closeStore()

	authService, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	service := fleet.NewService(store, store)
	poller, err := dashboard.NewPoller(service, cfg.Dashboard.ActiveInterval, cfg.Dashboard.HistoryInterval)
	if err != nil {
		return fmt.Errorf("failed to create dashboard poller: %w", err)
	}
	if len(cfg.Datastore.Missing()) == 0 {
		poller.Start(ctx)
	}
	defer poller.Stop()

	publisher := buildPublisher(cfg.MQTT)
	defer publisher.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(cfg, store, authService, service, poller, publisher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	log.WithFields(log.Fields{"port": cfg.Server.Port, "backend": cfg.Datastore.Backend}).Info("HTTP server listening")
	return serve(server, quit, cfg.Server.ShutdownTimeout)
}

// serve runs server until a signal arrives on quit or the listener fails,
// then shuts it down within timeout.
func serve(server *http.Server, quit <-chan os.Signal, timeout time.Duration) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case runErr = <-serverErr:
		log.WithError(runErr).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shut down")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// buildStore opens the configured backend. When its credentials are missing
// an unconnected store is returned so the server can still start and report
// the problem on each webhook call.
func buildStore(ctx context.Context, cfg config.DatastoreConfig) (db.Store, func(), error) {
	noop := func() {}
	if missing := cfg.Missing(); len(missing) > 0 {
		log.WithField("missing", missing).Warn("Datastore credentials missing")
		switch cfg.Backend {
		case config.BackendPostgres:
			return db.NewPostgresStore(nil), noop, nil
		case config.BackendMongo:
			return &db.MongoStore{}, noop, nil
		default:
			return db.NewRestStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.RequestTimeout), noop, nil
		}
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
		conn, err := db.OpenPostgres(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return db.NewPostgresStore(conn), func() { conn.Close() }, nil
	case config.BackendMongo:
		client, err := db.ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.WithError(err).Error("Failed to disconnect from MongoDB")
			}
		}
		return db.NewMongoStore(client.Database(cfg.MongoDatabase)), closeFn, nil
	default:
		return db.NewRestStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.RequestTimeout), noop, nil
	}
}

// buildPublisher connects to the MQTT broker when one is configured. A
// broker that cannot be reached disables publishing rather than the server.
func buildPublisher(cfg config.MQTTConfig) notify.Publisher {
	if cfg.BrokerURL == "" {
		return notify.Noop{}
	}
	pub, err := notify.NewMQTTPublisher(cfg.BrokerURL, cfg.TopicPrefix, cfg.Timeout)
	if err != nil {
		log.WithError(err).WithField("broker", cfg.BrokerURL).Error("Failed to connect to MQTT broker; events disabled")
		return notify.Noop{}
	}
	log.WithField("broker", cfg.BrokerURL).Info("Publishing fleet events to MQTT")
	return pub
}

func newRouter(cfg *config.Config, store db.Store, authService *auth.Service, service *fleet.Service, snapshots handlers.Snapshots, publisher notify.Publisher) *mux.Router {
	limiter := middleware.NewRateLimitMiddleware()
	return handlers.NewRouter(handlers.Routes{
		Auth:         middleware.NewAuthMiddleware(authService),
		Fleet:        handlers.NewFleetHandler(service, snapshots),
		Requests:     handlers.NewRequestHandler(service, snapshots),
		Webhooks:     webhook.NewHandler(store, cfg.Webhook.DealerwareSecret, cfg.Datastore.Missing(), publisher),
		WebhookLimit: limiter.RateLimit(cfg.Webhook.RateLimit, cfg.Webhook.RateWindow),
	})
}

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"interviewhub/internal/api"
	"interviewhub/internal/auth"
	"interviewhub/internal/config"
	"interviewhub/internal/database"
	"interviewhub/internal/hub"
	"interviewhub/internal/session"
	"interviewhub/internal/slack"
	"interviewhub/internal/store"
	"interviewhub/internal/websocket"
	pkgdatabase "interviewhub/pkg/database"
)

// Application coordinates all system components.
// Component initialization follows strict dependency order:
// Store → Database → Session → Registry → Hub → API → HTTP
type Application struct {
	config         *config.Config
	realtimeStore  *store.Store
	dbManager      *database.Manager
	sessionManager *session.Manager
	registry       *websocket.Registry
	sessionHub     *hub.Hub
	loginGuard     *api.LoginGuard
	apiServer      *api.Server
	httpServer     *http.Server
}

// NewApplication creates an application instance with all components wired.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: The realtime store is the foundation everything shares
	realtimeStore := store.NewStore(store.WithSweepInterval(cfg.Presence.SweepInterval))

	// STEP 2: Archive database
	dbConfig := pkgdatabase.DefaultConfig(cfg.Database.Path)
	dbConfig.ConnMaxLifetime = cfg.Database.Timeout

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 3: Session lifecycle and validation
	sessionManager := session.NewManager(realtimeStore, dbManager)
	validator := session.NewValidator(realtimeStore)

	// STEP 4: WebSocket registry for connection tracking
	registry := websocket.NewRegistry()

	// STEP 5: Session hub wires presence, notifications, and monitoring
	sessionHub := hub.NewHub(realtimeStore, dbManager,
		hub.WithPresenceTiming(cfg.Presence.HeartbeatInterval, cfg.Presence.LeaseTTL))

	// STEP 6: WebSocket transport
	wsHandler := websocket.NewHandler(registry, validator, realtimeStore, sessionHub)

	// STEP 7: Admin token issuer and the duplicate-login guard
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	loginGuard := api.NewLoginGuard(cfg.Auth.IPHashSecret)

	// STEP 8: API server with all business dependencies
	apiServer := api.NewServer(api.Deps{
		Sessions:         sessionManager,
		Validator:        validator,
		Database:         dbManager,
		Tokens:           tokens,
		Notifier:         slack.NewClient(cfg.Slack.WebhookURL),
		Guard:            loginGuard,
		Movies:           api.NewMovieCache(cfg.Movies.UpstreamURL, cfg.Movies.CacheTTL),
		AdminEmail:       cfg.Auth.AdminEmail,
		AdminPassword:    cfg.Auth.AdminPassword,
		WebSocketHandler: wsHandler.HandleWebSocket,
		Stats:            registry.GetStats,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		realtimeStore:  realtimeStore,
		dbManager:      dbManager,
		sessionManager: sessionManager,
		registry:       registry,
		sessionHub:     sessionHub,
		loginGuard:     loginGuard,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start begins application execution. The store's lease sweeper and the
// login guard's eviction loop start before the HTTP server accepts traffic.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting InterviewHub application on %s", app.httpServer.Addr)

	app.realtimeStore.Start()
	app.loginGuard.Start()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.loginGuard.Stop()
		app.realtimeStore.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("InterviewHub application started successfully")
		return nil
	case <-ctx.Done():
		app.loginGuard.Stop()
		app.realtimeStore.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts the application down in reverse dependency order:
// HTTP → guard → store → database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down InterviewHub application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.loginGuard.Stop()
	app.realtimeStore.SetConnected(false)
	app.realtimeStore.Stop()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("InterviewHub application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

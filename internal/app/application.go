package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"localboard/internal/api"
	"localboard/internal/attachment"
	"localboard/internal/auth"
	"localboard/internal/config"
	"localboard/internal/database"
	"localboard/internal/interaction"
	"localboard/internal/location"
	"localboard/internal/metrics"
	"localboard/internal/pipeline"
	"localboard/internal/router"
	"localboard/internal/websocket"
	dbconfig "localboard/pkg/database"
	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
)

// limiterSweep is how often idle rate-limit state is pruned
const limiterSweep = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	store       *database.Store
	metrics     *metrics.Metrics
	registry    *websocket.Registry
	rooms       *router.Router
	pipeline    *pipeline.Pipeline
	coordinator *location.Coordinator
	apiServer   *api.Server
	httpServer  *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Logging → Database → Registry → Router → Recorder/Coordinator → Pipeline → Handlers → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Logging
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Sink: cfg.Log.Sink})
	if cfg.Log.AuditDir != "" {
		if err := logger.AttachAuditFileSink(cfg.Log.AuditDir); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	// STEP 2: Store (migrations and schema validation run inside Open)
	dialect, err := dbconfig.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	dbConfig := dbconfig.DefaultConfig(cfg.Database.DSN)
	dbConfig.Dialect = dialect

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	store, err := database.Open(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// STEP 3: Real-time core
	m := metrics.New()
	registry := websocket.NewRegistry()
	rooms := router.NewRouter()
	// FUNCTIONAL DISCOVERY: An evicted session leaves its room before the
	// replacement joins
	registry.SetEvictionHandler(func(old interfaces.Connection) {
		rooms.Leave(old)
		m.Evicted()
	})

	recorder := interaction.NewRecorder(store, registry, m)
	coordinator := location.NewCoordinator(store, rooms, registry, m)
	recorder.SetSink(coordinator)

	messages := pipeline.New(store, rooms, recorder, attachment.NewDiskRemover(cfg.Storage.UploadDir), m, pipeline.Options{
		RatePerMinute: cfg.Admission.RatePerMinute,
		RateBurst:     cfg.Admission.RateBurst,
	})

	// STEP 4: Handlers
	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	wsHandler := websocket.NewHandler(websocket.HandlerDeps{
		Verifier:     verifier,
		Registry:     registry,
		Rooms:        rooms,
		Store:        store,
		Messages:     messages,
		Locator:      coordinator,
		Interactions: recorder,
		Metrics:      m,
	}, websocket.HandlerOptions{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		QueueSize:    cfg.WebSocket.BufferSize,
	})

	apiServer := api.NewServer(api.Deps{
		Store:        store,
		Messages:     messages,
		Locator:      coordinator,
		Interactions: recorder,
		Verifier:     verifier,
		IsAdmin:      cfg.IsAdmin,
		Sessions:     registry,
		Rooms:        rooms,
		Metrics:      m,
		WebSocket:    wsHandler,
	})

	// STEP 5: HTTP server; the API server owns every route including /ws
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		store:       store,
		metrics:     m,
		registry:    registry,
		rooms:       rooms,
		pipeline:    messages,
		coordinator: coordinator,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound, so GetAddr reports the real port afterwards.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	bg, cancel := context.WithCancel(ctx)
	app.cancel = cancel
	app.done = make(chan struct{})

	// STEP 1: Background maintenance
	go app.pipeline.RunCleanup(bg, limiterSweep)

	// STEP 2: Accept connections
	go func() {
		defer close(app.done)
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", "error", err)
		}
	}()

	logger.Info("application_started", "addr", listener.Addr().String(), "driver", app.config.Database.Driver)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → background writes → Database
func (app *Application) Stop(ctx context.Context) error {
	logger.Info("application_stopping")

	var errs []error
	if app.cancel != nil {
		app.cancel()
	}

	// STEP 1: Stop accepting new requests. Hijacked sockets are not tracked
	// by Shutdown and are closed with the process.
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if app.done != nil {
		<-app.done
	}

	// STEP 2: Let in-flight ledger writes land
	if err := app.pipeline.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pending ledger writes: %w", err))
	}

	// STEP 3: Close database connections
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	logger.Info("application_stopped")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, else the configured one
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

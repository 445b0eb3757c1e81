package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/general/postgres"
	"ride-dispatch/internal/general/rabbitmq"
	"ride-dispatch/internal/general/redisgeo"
	"ride-dispatch/internal/general/websocket"
	dispatchservice "ride-dispatch/internal/software/dispatch/service"
	paymentservice "ride-dispatch/internal/software/payment/service"
	trackingservice "ride-dispatch/internal/software/tracking/service"

	amqp "github.com/rabbitmq/amqp091-go"
)

// maxConcurrent caps in-flight HTTP requests, websocket upgrades included.
const maxConcurrent = 512

// Run wires the dispatch service and blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	// set up a new logger and context for dispatch service with a static request ID for startup logs
	logger := logger.New("dispatch-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// connect to Redis for the captain location index
	rdb, err := redisgeo.NewClient(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
		return err
	}
	defer rdb.Close()

	// connect to RabbitMQ
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	// set up the JWT manager
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	// set up the metrics registry
	m := metrics.New()

	// set up the repos
	uow := postgres.NewUnitOfWork(pool)
	tripRepo := postgres.NewTripRepo()
	captainRepo := postgres.NewCaptainRepo()
	ledgerRepo := postgres.NewLedgerRepo()
	settingsRepo := postgres.NewSettingsRepo()

	// load the dispatch tuning from the settings row
	var tuning *dispatch.Config
	err = uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		tuning, err = settingsRepo.Load(ctx)
		return err
	})
	if err != nil {
		logger.Error(ctx, "settings_load_failed", "Failed to load dispatch settings", err, nil)
		return err
	}

	locations := redisgeo.NewLocationIndex(rdb)

	// set up the websocket gateway
	gw := websocket.NewGateway(logger, jwtManager, m)

	// the tracking hub reads the live tuning through the service, which does
	// not exist yet; bind the accessor late
	var svc *dispatchservice.Service
	hub := trackingservice.NewHub(logger, gw, func() *dispatch.Config { return svc.Config() })

	// set up the payment interlock
	interlock := paymentservice.NewInterlock(logger, uow, ledgerRepo, m, func() *dispatch.Config { return svc.Config() })

	// set up the dispatch core
	svc = dispatchservice.NewService(logger, uow, tripRepo, captainRepo, locations, gw, gw, interlock, rmq, settingsRepo, hub, m, tuning)
	gw.Attach(svc, svc, hub)

	// run the background loops
	go svc.RunSupervisor(ctx)
	go interlock.RunPendingSettler(ctx)
	go hub.Run(ctx)

	// consume runtime configuration changes from the control queue
	go func() {
		err := rmq.Consume(ctx, contracts.QueueDispatchControl, func(ctx context.Context, d amqp.Delivery) error {
			return svc.HandleControlMessage(ctx, d.Body)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error(ctx, "control_consumer_stopped", "Dispatch control consumer terminated", err, nil)
		}
	}()

	// set up the HTTP handler and its routes
	mux := http.NewServeMux()
	gw.Routes(mux)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// log service start
	logger.Info(ctx, "service_started",
		fmt.Sprintf("Dispatch Service started on port %d", cfg.Service.Port),
		map[string]any{"port": cfg.Service.Port, "max_concurrent": maxConcurrent},
	)

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "shutdown_started", "Dispatch Service shutting down", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		// let in-flight dispatchers finish their current phase, but never hold
		// the process hostage to a full dispatch window
		waitCh := make(chan struct{})
		go func() {
			svc.Wait()
			close(waitCh)
		}()
		select {
		case <-waitCh:
		case <-time.After(30 * time.Second):
			logger.Info(ctx, "shutdown_wait_timeout", "Dispatchers still running at shutdown deadline, exiting", nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Service.Port})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/reflection"

	"LicensePlatform/pkg/config"
	"LicensePlatform/pkg/health"
	"LicensePlatform/pkg/logger"
	"LicensePlatform/pkg/metrics"

	grpcHandler "LicensePlatform/services/license-service/internal/handler/grpc"
	httpHandler "LicensePlatform/services/license-service/internal/handler/http"
	"LicensePlatform/services/license-service/internal/keygen"
	"LicensePlatform/services/license-service/internal/pkg/jwt"
	"LicensePlatform/services/license-service/internal/repository/postgres"
	"LicensePlatform/services/license-service/internal/service"
	"LicensePlatform/services/license-service/internal/token"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP и gRPC серверы",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer syncLogger(appLogger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, appLogger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before start")
}

func serve(ctx context.Context, cfg *config.Config, appLogger logger.Logger) error {
	appLogger.Info("Starting License Service",
		logger.String("version", version),
		logger.String("environment", cfg.Environment),
		logger.String("storage", cfg.Storage.Driver),
		logger.String("expiry_policy", cfg.License.ExpiryPolicy),
	)

	appMetrics := metrics.NewMetrics(serviceName)
	tracerProvider := metrics.InitializeOpenTelemetry(serviceName, version)
	defer func() {
		if err := metrics.ShutdownTracer(tracerProvider, 5*time.Second); err != nil {
			appLogger.Error("Failed to shutdown tracer", logger.Error(err))
		}
	}()

	checker := health.NewDependencyChecker(version, 2*time.Second)

	infra, err := openStorage(ctx, cfg, appLogger, checker)
	if err != nil {
		return err
	}
	defer infra.Close()

	if serveMigrate && infra.db != nil {
		applied, err := postgres.Migrate(ctx, infra.db.Pool, appLogger)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		appLogger.Info("Migrations applied", logger.Int("count", applied))
	}

	infra.connectRedis(ctx, cfg, checker)

	sink, err := infra.auditSink(ctx, cfg, appMetrics, checker)
	if err != nil {
		return err
	}

	signer, err := token.NewSigner(cfg.Auth.TokenKeys, cfg.Auth.ActiveKeyID)
	if err != nil {
		return fmt.Errorf("failed to create token signer: %w", err)
	}

	engine := service.NewEngine(
		infra.licenses,
		infra.legacy,
		service.EngineConfig{
			ExpiryPolicy:  service.ExpiryPolicy(cfg.License.ExpiryPolicy),
			MaxCASRetries: cfg.License.MaxCASRetries,
		},
		appLogger,
		service.WithConflictObserver(appMetrics),
	)
	dispatcher := service.NewDispatcher(
		service.DispatcherConfig{
			Maintenance:        cfg.Maintenance.Enabled,
			MaintenanceMessage: cfg.Maintenance.Message,
		},
		engine,
		infra.apps,
		signer,
		sink,
		appLogger,
		service.WithAuthObserver(appMetrics),
	)
	issuer := service.NewIssuer(infra.licenses, infra.apps, infra.resellers, keygen.NewGenerator(), cfg.License.GenerationAttempts, appLogger).
		WithObserver(appMetrics)
	if cfg.License.ExpiringReportCron != "" {
		reporter := service.NewExpiringReporter(engine, cfg.License.ExpiringReportDays, appMetrics, appLogger)
		if err := reporter.Start(cfg.License.ExpiringReportCron); err != nil {
			return err
		}
		defer reporter.Stop()
	}
	admin := jwt.NewManager(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminJWTIssuer, time.Hour)

	// HTTP
	handler := httpHandler.NewHandler(httpHandler.ServiceInfo{Name: serviceName, Version: version}, dispatcher, engine, issuer, appLogger)
	router := handler.Routes(httpHandler.RouterOptions{
		Admin:         admin,
		Limiter:       infra.rateLimiter(cfg),
		ConnectLimit:  cfg.RateLimiting.RequestsPerMinute,
		ConnectWindow: time.Minute,
		Metrics:       appMetrics,
		Health:        checker,
	})
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 10*time.Second),
	}

	// gRPC
	var (
		grpcServer   *grpc.Server
		healthServer *grpchealth.Server
		grpcListener net.Listener
	)
	if cfg.GRPC.Enabled {
		listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port)
		grpcListener, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
		}
		healthServer = grpchealth.NewServer()
		grpcServer = grpcHandler.NewServer(grpcHandler.NewHandler(dispatcher, engine, issuer, admin, appLogger), healthServer)
		if cfg.Environment == "dev" {
			reflection.Register(grpcServer)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			appLogger.Info("Starting gRPC server", logger.String("addr", grpcListener.Addr().String()))
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second)):
				appLogger.Warn("gRPC graceful stop timed out, forcing stop")
				grpcServer.Stop()
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// события, принятые до остановки серверов, дописываются в бэкенды
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closeErr := sink.Close(closeCtx); closeErr != nil {
		appLogger.Warn("Audit sink closed with pending events", logger.Error(closeErr))
	}

	if err != nil {
		return err
	}
	appLogger.Info("License Service stopped")
	return nil
}

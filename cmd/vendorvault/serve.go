package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/auditfile"
	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/catalog"
	sqliteadapter "github.com/ericfisherdev/vendorvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/vendorapi/ftp"
	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/vendorapi/rest"
	"github.com/ericfisherdev/vendorvault/internal/adapter/driven/vendorapi/sftp"
	httphandler "github.com/ericfisherdev/vendorvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/vendorvault/internal/application"
	"github.com/ericfisherdev/vendorvault/internal/domain/port/driven"
)

const userAgent = "vendorvault/1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credential vault HTTP API",
	Long: `Run the credential vault HTTP API.

VENDORVAULT_SECRET_KEY must be set; the vault refuses to start without a
master secret rather than store credentials unencrypted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.HasSecretKey() {
		return driven.ErrEncryptionKeyNotSet
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"test_concurrency", cfg.TestConcurrency,
		"vendor_timeout", cfg.VendorTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Derive the encryption key before touching storage.
	salt := cfg.KDFSalt
	if salt == "" {
		salt = aesgcm.DefaultSalt
	}
	cipher, err := aesgcm.New(cfg.SecretKey, salt)
	if err != nil {
		return err
	}

	// 4. Load the vendor catalog.
	defs, err := catalog.Load(cfg.VendorsFile)
	if err != nil {
		return err
	}
	schema, err := application.NewSchemaRegistry(defs)
	if err != nil {
		return err
	}
	slog.Info("vendor catalog loaded", "vendors", len(defs), "file", cfg.VendorsFile)

	// 5. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// 6. Wire audit sinks: the database always, the YAML file when configured.
	auditStore := sqliteadapter.NewAuditRepo(db)
	sinks := []driven.AuditSink{auditStore}
	if cfg.AuditLogPath != "" {
		fileSink, err := auditfile.Open(auditfile.Options{Path: cfg.AuditLogPath})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := fileSink.Close(); closeErr != nil {
				slog.Error("error closing audit log", "error", closeErr)
			}
		}()
		sinks = append(sinks, fileSink)
		slog.Info("audit log file enabled", "path", cfg.AuditLogPath)
	}
	recorder := application.NewAuditRecorder(clock.WallClock, slog.Default(), sinks...)

	// 7. Vault and vendor handlers.
	vault := application.NewVault(schema, sqliteadapter.NewCredentialRepo(db, clock.WallClock), cipher, recorder, slog.Default())

	registry := application.NewHandlerRegistry(slog.Default())
	registry.RegisterFactory(rest.Kind, rest.NewFactory(rest.Config{Timeout: cfg.VendorTimeout, UserAgent: userAgent}))
	registry.RegisterFactory(ftp.Kind, ftp.NewFactory(ftp.Config{Timeout: cfg.VendorTimeout}))
	registry.RegisterFactory(sftp.Kind, sftp.NewFactory(sftp.Config{Timeout: cfg.VendorTimeout, Logger: slog.Default()}))
	if err := registry.Discover(defs); err != nil {
		return err
	}

	// 8. Connection test queue.
	queue, err := application.NewTestQueue(cfg.TestConcurrency, slog.Default())
	if err != nil {
		return err
	}
	conn := application.NewConnectionService(vault, registry, queue, recorder, slog.Default())

	// 9. HTTP API.
	// A vendor call may wait one vendor timeout for a slot and run for
	// another; past that the caller gets 504 before the write deadline.
	callTimeout := 2 * cfg.VendorTimeout
	apiHandler := httphandler.NewHandler(vault, conn, registry, auditStore, slog.Default(),
		httphandler.WithCallTimeout(callTimeout))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      callTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("vendorvault started",
		"listen_addr", cfg.ListenAddr,
		"handlers", len(registry.Registered()),
	)

	// 10. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = queue.Close(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down")

	// 11. Drain HTTP first so no new vendor calls are queued, then let
	// running calls finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.VendorTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := queue.Close(shutdownCtx); err != nil {
		slog.Error("connection test queue shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

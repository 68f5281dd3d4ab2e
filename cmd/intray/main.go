package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/intray/cmd/intray/middleware"
	"github.com/lgulliver/intray/cmd/intray/routes"
	"github.com/lgulliver/intray/internal/auth"
	"github.com/lgulliver/intray/internal/common"
	"github.com/lgulliver/intray/internal/receipts"
	"github.com/lgulliver/intray/internal/storage"
	"github.com/lgulliver/intray/internal/upload"
	"github.com/lgulliver/intray/pkg/config"
	"github.com/lgulliver/intray/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := newFlagSet()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if password, _ := flagSet.GetString("hash-password"); password != "" {
		cost, _ := flagSet.GetInt("bcrypt-cost")
		hash, err := utils.HashPassword(password, cost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Println(hash)
		return nil
	}

	cfg, err := loadConfig(flagSet)
	if err != nil {
		return err
	}

	setupLogging(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().Msg("Starting intray")

	// Initialize storage
	dir, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	dependencies := make(map[string]routes.Pinger)
	var recorder upload.Recorder
	var lister routes.ReceiptLister

	// The receipt ledger is optional
	if cfg.Database.Driver != "" {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		dependencies["database"] = db

		var cache *common.Cache
		if cfg.Redis.Host != "" {
			cache, err = common.NewCache(&cfg.Redis)
			if err != nil {
				return err
			}
			defer cache.Close()
			dependencies["redis"] = cache
		}

		ledger := receipts.NewLedger(db, cache)
		recorder = ledger
		lister = ledger
		log.Info().Str("driver", cfg.Database.Driver).Bool("cache", cache != nil).Msg("receipt ledger enabled")
	}

	// Initialize services
	uploadService := upload.NewService(&cfg.Storage, dir, recorder)
	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	if !authService.Enabled() {
		log.Warn().Msg("no credentials configured, uploads are open to everyone")
	}

	router := setupRouter(uploadService, dir, authService, lister, dependencies)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return uploadService.RunSweeper(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("dir", dir.BasePath()).Msg("Running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info().Msg("Server shutdown complete")
		return nil
	})

	return g.Wait()
}

func newFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("intray", pflag.ContinueOnError)
	flagSet.String("config", "", "path to a YAML configuration file")
	flagSet.StringP("ip-addr", "a", "::", "IP address to bind on")
	flagSet.StringP("dir", "d", "./", "directory to store received files")
	flagSet.IntP("port", "p", 8080, "port to bind on")
	flagSet.Duration("ttl", 15*time.Second, "inactivity period after which a chunked upload is discarded")
	flagSet.Duration("sweep-interval", 15*time.Second, "period of the expired upload sweep")
	flagSet.Int64("max-chunks", upload.DefaultMaxChunks, "maximum number of chunks in one upload")
	flagSet.StringArrayP("credential", "c", nil, "user:password accepted for HTTP Basic authentication (repeatable, password may be a bcrypt hash)")
	flagSet.String("realm", "intray", "HTTP Basic authentication realm")
	flagSet.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flagSet.String("hash-password", "", "print the bcrypt hash of a password and exit")
	flagSet.Int("bcrypt-cost", 10, "bcrypt cost used by --hash-password")
	return flagSet
}

// loadConfig builds the configuration from the environment, an optional
// config file and finally the explicitly set flags. A single positional
// argument is taken as the port.
func loadConfig(flagSet *pflag.FlagSet) (*config.Config, error) {
	var cfg *config.Config
	if path, _ := flagSet.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	if flagSet.Changed("ip-addr") {
		cfg.Server.Host, _ = flagSet.GetString("ip-addr")
	}
	if flagSet.Changed("dir") {
		cfg.Storage.Dir, _ = flagSet.GetString("dir")
	}
	if flagSet.Changed("port") {
		cfg.Server.Port, _ = flagSet.GetInt("port")
	}
	if flagSet.Changed("ttl") {
		cfg.Storage.SessionTTL, _ = flagSet.GetDuration("ttl")
	}
	if flagSet.Changed("sweep-interval") {
		cfg.Storage.SweepInterval, _ = flagSet.GetDuration("sweep-interval")
	}
	if flagSet.Changed("max-chunks") {
		cfg.Storage.MaxChunks, _ = flagSet.GetInt64("max-chunks")
	}
	if flagSet.Changed("credential") {
		cfg.Auth.Credentials, _ = flagSet.GetStringArray("credential")
	}
	if flagSet.Changed("realm") {
		cfg.Auth.Realm, _ = flagSet.GetString("realm")
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level, _ = flagSet.GetString("log-level")
	}

	switch args := flagSet.Args(); len(args) {
	case 0:
	case 1:
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port: %q", args[0])
		}
		cfg.Server.Port = port
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(args[1:], " "))
	}

	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupRouter(uploadService routes.UploadServiceInterface, dir routes.UsageReporter, authService *auth.Service, lister routes.ReceiptLister, dependencies map[string]routes.Pinger) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())

	// Health check stays reachable without credentials
	routes.HealthRoutes(router, uploadService, dir, dependencies)

	authenticated := router.Group("/")
	authenticated.Use(middleware.AuthMiddleware(authService))
	{
		routes.WebRoutes(authenticated)
		routes.UploadRoutes(authenticated, uploadService)

		api := authenticated.Group("/api/v1")
		routes.ReceiptRoutes(api, lister)
		routes.AuthRoutes(api, authService)
	}

	router.NoRoute(routes.NotFound)
	return router
}

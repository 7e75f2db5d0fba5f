package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/annotations"
	"github.com/MarcoPoloResearchLab/marginalia/internal/auth"
	"github.com/MarcoPoloResearchLab/marginalia/internal/cache"
	"github.com/MarcoPoloResearchLab/marginalia/internal/config"
	"github.com/MarcoPoloResearchLab/marginalia/internal/database"
	"github.com/MarcoPoloResearchLab/marginalia/internal/documents"
	"github.com/MarcoPoloResearchLab/marginalia/internal/identifier"
	"github.com/MarcoPoloResearchLab/marginalia/internal/logging"
	"github.com/MarcoPoloResearchLab/marginalia/internal/server"
	"github.com/MarcoPoloResearchLab/marginalia/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marginalia-api",
		Short: "Marginalia annotation synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address (empty disables the document cache)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int64("upload-limit-mb", defaults.GetInt64("upload.limit_mb"), "Maximum upload size in megabytes")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("annotations.page_size"), "Annotation page size")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "upload.limit_mb", "upload-limit-mb")
	bindFlag(cmd, "annotations.page_size", "page-size")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var documentCache *cache.DocumentCache
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
		documentCache = cache.NewDocumentCache(redisClient, 0)
		logger.Info("document cache enabled", zap.String("address", appConfig.RedisAddress))
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "marginalia-auth",
		Audience:      "marginalia-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	idProvider := identifier.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	hub := server.NewRoomHub()

	annotationsConfig := annotations.ServiceConfig{
		Store:       annotations.NewStore(db),
		Ledger:      annotations.NewLedger(db),
		Broadcaster: hub,
		IDProvider:  idProvider,
		Logger:      logger,
	}
	if documentCache != nil {
		annotationsConfig.Cache = documentCache
	}
	annotationsService, err := annotations.NewService(annotationsConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:        usersService,
		Documents:    documentsService,
		Annotations:  annotationsService,
		TokenManager: tokenManager,
		Hub:          hub,
		Cache:        documentCache,
		Logger:       logger,
		PageSize:     appConfig.PageSize,
		UploadLimit:  appConfig.UploadLimitMB << 20,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/talenthub/internal/auth"
	"github.com/MarcoPoloResearchLab/talenthub/internal/config"
	"github.com/MarcoPoloResearchLab/talenthub/internal/credentials"
	"github.com/MarcoPoloResearchLab/talenthub/internal/crm"
	"github.com/MarcoPoloResearchLab/talenthub/internal/database"
	"github.com/MarcoPoloResearchLab/talenthub/internal/identity"
	"github.com/MarcoPoloResearchLab/talenthub/internal/logging"
	"github.com/MarcoPoloResearchLab/talenthub/internal/mail"
	"github.com/MarcoPoloResearchLab/talenthub/internal/notifications"
	"github.com/MarcoPoloResearchLab/talenthub/internal/realtime"
	"github.com/MarcoPoloResearchLab/talenthub/internal/secrets"
	"github.com/MarcoPoloResearchLab/talenthub/internal/server"
	"github.com/MarcoPoloResearchLab/talenthub/internal/tokens"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "talenthub-api",
		Short: "Seven Talent Hub backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("secrets-backend", defaults.GetString("secrets.backend"), "Verification secret backend (redis, memory)")
	cmd.PersistentFlags().String("frontend-url", defaults.GetString("frontend.url"), "Public frontend URL used in emails")
	cmd.PersistentFlags().Bool("realtime-relay", defaults.GetBool("realtime.relay"), "Relay realtime events through Redis pub/sub")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "secrets.backend", "secrets-backend")
	bindFlag(cmd, "frontend.url", "frontend-url")
	bindFlag(cmd, "realtime.relay", "realtime-relay")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		viper.SetConfigName("talenthub")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(cfgFile)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var configNotFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &configNotFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
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

	var redisClient *redis.Client
	if appConfig.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, appConfig.SecretsOperationTimeout)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis not reachable at startup", zap.String("address", appConfig.RedisAddress), zap.Error(err))
		}
	}

	secretStore, err := newSecretStore(appConfig, redisClient, logger)
	if err != nil {
		return err
	}

	sessionIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	accounts, err := identity.NewProvider(identity.ProviderConfig{
		Database:         db,
		Sessions:         sessionIssuer,
		OperationTimeout: appConfig.IdentityOperationTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	policy := tokens.DefaultPolicy()
	policy.MaxAttempts = appConfig.SecretsMaxAttempts
	tokenConfig := tokens.Config{
		Store:            secretStore,
		Policy:           policy,
		Keys:             tokens.KeyBuilder{Prefix: appConfig.SecretsKeyPrefix},
		OperationTimeout: appConfig.SecretsOperationTimeout,
		Logger:           logger,
	}
	tokenIssuer, err := tokens.NewIssuer(tokenConfig)
	if err != nil {
		return err
	}
	tokenVerifier, err := tokens.NewVerifier(tokenConfig)
	if err != nil {
		return err
	}

	sender, err := newSender(appConfig, logger)
	if err != nil {
		return err
	}
	outbox, err := mail.NewOutbox(mail.OutboxConfig{
		Sender:      sender,
		Workers:     appConfig.MailWorkers,
		QueueSize:   appConfig.MailQueueSize,
		SendTimeout: appConfig.MailSendTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer outbox.Close()
	templates, err := mail.NewTemplates(mail.DefaultBrand(appConfig.FrontendURL))
	if err != nil {
		return err
	}

	credentialService, err := credentials.NewService(credentials.ServiceConfig{
		Accounts:    accounts,
		Issuer:      tokenIssuer,
		Verifier:    tokenVerifier,
		Policy:      policy,
		Outbox:      outbox,
		Templates:   templates,
		FrontendURL: appConfig.FrontendURL,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	registry := realtime.NewRegistry()
	localPublisher, err := realtime.NewLocalPublisher(registry, logger)
	if err != nil {
		return err
	}
	var broadcaster realtime.Broadcaster = localPublisher
	var relay *realtime.RedisRelay
	if appConfig.RealtimeRelay {
		relay, err = realtime.NewRedisRelay(realtime.RelayConfig{
			Client:  redisClient,
			Channel: appConfig.RealtimeChannel,
			Local:   localPublisher,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		broadcaster = relay
	}
	realtimeHandler, err := realtime.NewHandler(realtime.HandlerConfig{
		Registry:       registry,
		Sessions:       sessionValidator,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	notificationStore, err := notifications.NewStore(notifications.StoreConfig{Database: db})
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewService(notifications.ServiceConfig{
		Store:  notificationStore,
		Pusher: broadcaster,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Wait()

	crmService, err := crm.NewService(crm.ServiceConfig{
		Database: db,
		Notifier: dispatcher,
		Events:   broadcaster,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Accounts:       accounts,
		Credentials:    credentialService,
		Notifications:  notificationStore,
		CRM:            crmService,
		Realtime:       realtimeHandler,
		SessionCookie:  server.SessionCookie{Name: appConfig.CookieName, Secure: appConfig.CookieSecure},
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:         logger,
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

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		group.Go(func() error {
			return relay.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func newSecretStore(appConfig config.AppConfig, client *redis.Client, logger *zap.Logger) (secrets.Store, error) {
	if appConfig.SecretsBackend == config.SecretsBackendMemory {
		logger.Warn("verification secrets kept in process memory; use only for development")
		return secrets.NewMemoryStore(time.Now), nil
	}
	return secrets.NewRedisStore(client)
}

func newSender(appConfig config.AppConfig, logger *zap.Logger) (mail.Sender, error) {
	if appConfig.SMTPHost == "" {
		logger.Warn("smtp.host not set; emails are logged instead of sent")
		return mail.NewLogSender(logger), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:        appConfig.SMTPHost,
		Port:        appConfig.SMTPPort,
		Username:    appConfig.SMTPUsername,
		Password:    appConfig.SMTPPassword,
		FromAddress: appConfig.SMTPFromAddress,
		FromName:    appConfig.SMTPFromName,
		Timeout:     appConfig.MailSendTimeout,
	})
}

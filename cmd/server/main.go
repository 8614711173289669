package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/httpapi"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/storage"
	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/task"
)

const (
	commandUseName                     = "server"
	commandShortDescription            = "Run the feedback store"
	commandLongDescription             = "Launch the restaurant feedback store HTTP server"
	missingConfigurationMessage        = "missing required configuration"
	invalidConfigurationMessage        = "invalid configuration"
	loggerCreationErrorMessage         = "logger"
	logEventListening                  = "listening"
	logEventShutdown                   = "shutdown"
	logFieldAddress                    = "addr"
	logFieldDriver                     = "driver"
	flagNameApplicationAddress         = "app-addr"
	flagNameDatabaseDriver             = "db-driver"
	flagNameDatabaseDataSourceName     = "db-dsn"
	flagNameIdempotencyWindow          = "idempotency-window"
	flagNameRateLimitPerMinute         = "rate-limit-per-minute"
	flagUsageApplicationAddress        = "address for the HTTP server to listen on"
	flagUsageDatabaseDriver            = "database driver (sqlite or postgres)"
	flagUsageDatabaseDataSourceName    = "database connection string or sqlite file path"
	flagUsageIdempotencyWindow         = "how long a submission token deduplicates creates (0 disables)"
	flagUsageRateLimitPerMinute        = "create requests allowed per client IP per minute (0 disables)"
	environmentKeyApplicationAddress   = "APP_ADDR"
	environmentKeyDatabaseDriver       = "DB_DRIVER"
	environmentKeyDatabaseDataSource   = "DB_DSN"
	environmentKeyIdempotencyWindow    = "IDEMPOTENCY_WINDOW"
	environmentKeyRateLimitPerMinute   = "RATE_LIMIT_PER_MINUTE"
	defaultApplicationAddress          = ":8080"
	defaultDatabaseDriver              = storage.DriverNameSQLite
	defaultDatabaseDataSourceName      = "dinerfeedback.db"
	defaultRateLimitPerMinute          = 60
	loggerContextOpenDatabase          = "open_db"
	loggerContextAutoMigrate           = "migrate"
	loggerContextServer                = "server"
	readHeaderTimeoutSeconds           = 5
	shutdownTimeoutSeconds             = 10
	unexpectedArgumentsMessage         = "unexpected command arguments"
	commandInitializationFailure       = "failed to configure command"
	flagNotDefinedMessage              = "flag %s not defined"
	environmentConfigurationError      = "failed to apply environment configuration"
	negativeIdempotencyWindowMessage   = "idempotency window must not be negative"
	negativeRateLimitPerMinuteMessage  = "rate limit per minute must not be negative"
	unsupportedDatabaseDriverMessage   = "unsupported database driver"
	tokenPurgeIntervalDivisor          = 2
	minimumTokenPurgeIntervalInSeconds = 30
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriver         string
	DatabaseDataSourceName string
	IdempotencyWindow      time.Duration
	RateLimitPerMinute     int
}

// DatabaseOpener opens a database connection for the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var flagBindings = []flagBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriver},
	{environmentKey: environmentKeyDatabaseDataSource, flagName: flagNameDatabaseDataSourceName},
	{environmentKey: environmentKeyIdempotencyWindow, flagName: flagNameIdempotencyWindow},
	{environmentKey: environmentKeyRateLimitPerMinute, flagName: flagNameRateLimitPerMinute},
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyApplicationAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDriver, defaultDatabaseDriver)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDataSource, defaultDatabaseDataSourceName)
	application.configurationLoader.SetDefault(environmentKeyIdempotencyWindow, storage.DefaultIdempotencyWindow)
	application.configurationLoader.SetDefault(environmentKeyRateLimitPerMinute, defaultRateLimitPerMinute)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress)
	commandFlags.String(flagNameDatabaseDriver, defaultDatabaseDriver, flagUsageDatabaseDriver)
	commandFlags.String(flagNameDatabaseDataSourceName, defaultDatabaseDataSourceName, flagUsageDatabaseDataSourceName)
	commandFlags.Duration(flagNameIdempotencyWindow, storage.DefaultIdempotencyWindow, flagUsageIdempotencyWindow)
	commandFlags.Int(flagNameRateLimitPerMinute, defaultRateLimitPerMinute, flagUsageRateLimitPerMinute)

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyApplicationAddress)),
		DatabaseDriver:         strings.ToLower(strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDriver))),
		DatabaseDataSourceName: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDataSource)),
		IdempotencyWindow:      application.configurationLoader.GetDuration(environmentKeyIdempotencyWindow),
		RateLimitPerMinute:     application.configurationLoader.GetInt(environmentKeyRateLimitPerMinute),
	}
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}
	command.SilenceUsage = true

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.String(logFieldDriver, serverConfig.DatabaseDriver), zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	gin.SetMode(gin.ReleaseMode)
	components := buildServerComponents(database, serverConfig, logger)
	defer components.close()

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	components.tokenPurgeScheduler.Start(signalContext)

	httpServer := components.httpServer(serverConfig.ApplicationAddress)

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Fatal(loggerContextServer, zap.Error(serveErr))
		}
	case <-signalContext.Done():
		logger.Info(logEventShutdown)
		shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
		defer cancelShutdown()
		if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
			logger.Warn(loggerContextServer, zap.Error(shutdownErr))
		}
	}

	return nil
}

type serverComponents struct {
	router              *gin.Engine
	events              *httpapi.FeedbackEventBroadcaster
	tokenPurgeScheduler *task.Scheduler
}

func (components serverComponents) close() {
	components.tokenPurgeScheduler.Stop()
	components.events.Close()
}

// httpServer serves the router. Shutdown does not cancel request contexts, so event streams
// are ended by closing the broadcaster when shutdown begins.
func (components serverComponents) httpServer(address string) *http.Server {
	server := &http.Server{
		Addr:              address,
		Handler:           components.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}
	server.RegisterOnShutdown(components.events.Close)
	return server
}

func buildServerComponents(database *gorm.DB, serverConfig ServerConfig, logger *zap.Logger) serverComponents {
	feedbackStore := storage.NewFeedbackStore(database, serverConfig.IdempotencyWindow)
	feedbackEvents := httpapi.NewFeedbackEventBroadcaster()
	metrics := httpapi.NewMetrics()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handlers:    httpapi.NewFeedbackHandlers(feedbackStore, logger, feedbackEvents, metrics),
		Metrics:     metrics,
		RateLimiter: httpapi.NewClientRateLimiter(serverConfig.RateLimitPerMinute),
		Logger:      logger,
	})

	var tokenPurgeScheduler *task.Scheduler
	if serverConfig.IdempotencyWindow > 0 {
		tokenPurgeScheduler = task.NewScheduler(
			tokenPurgeInterval(serverConfig.IdempotencyWindow),
			task.NewTokenPurgeJob(feedbackStore, logger),
			logger,
		)
	}

	return serverComponents{
		router:              router,
		events:              feedbackEvents,
		tokenPurgeScheduler: tokenPurgeScheduler,
	}
}

func tokenPurgeInterval(idempotencyWindow time.Duration) time.Duration {
	interval := idempotencyWindow / tokenPurgeIntervalDivisor
	minimum := minimumTokenPurgeIntervalInSeconds * time.Second
	if interval < minimum {
		return minimum
	}
	return interval
}

func ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.ApplicationAddress == "" {
		missingParameters = append(missingParameters, flagNameApplicationAddress)
	}
	if configuration.DatabaseDriver == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDriver)
	}
	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}
	if len(missingParameters) > 0 {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
	}

	switch configuration.DatabaseDriver {
	case storage.DriverNameSQLite, storage.DriverNamePostgres:
	default:
		return fmt.Errorf("%s: %s: %s", invalidConfigurationMessage, unsupportedDatabaseDriverMessage, configuration.DatabaseDriver)
	}
	if configuration.IdempotencyWindow < 0 {
		return fmt.Errorf("%s: %s", invalidConfigurationMessage, negativeIdempotencyWindowMessage)
	}
	if configuration.RateLimitPerMinute < 0 {
		return fmt.Errorf("%s: %s", invalidConfigurationMessage, negativeRateLimitPerMinuteMessage)
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}

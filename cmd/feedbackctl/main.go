package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/dinerfeedback/internal/client"
)

const (
	commandUseName                 = "feedbackctl"
	commandShortDescription        = "Submit, list and delete restaurant feedback"
	commandLongDescription         = "Command line client for the restaurant feedback store"
	flagNameStoreURL               = "url"
	flagNameRequestTimeout         = "timeout"
	flagUsageStoreURL              = "base URL of the feedback store"
	flagUsageRequestTimeout        = "per-request timeout (0 waits indefinitely)"
	environmentKeyStoreURL         = "FEEDBACK_URL"
	environmentKeyRequestTimeout   = "REQUEST_TIMEOUT"
	defaultStoreURL                = "http://localhost:8080"
	loggerCreationErrorMessage     = "logger"
	commandInitializationFailure   = "failed to configure command"
	flagNotDefinedMessage          = "flag %s not defined"
	environmentConfigurationError  = "failed to apply environment configuration"
	negativeRequestTimeoutMessage  = "request timeout must not be negative"
	invalidConfigurationMessage    = "invalid configuration"
	storeClientCreationErrorPrefix = "store client"
)

// LoggerFactory builds the logger used by subcommands.
type LoggerFactory func() (*zap.Logger, error)

// CLIApplication constructs and executes the feedbackctl command tree.
type CLIApplication struct {
	configurationLoader *viper.Viper
	loggerFactory       LoggerFactory
}

// NewCLIApplication creates a CLIApplication with default dependencies.
func NewCLIApplication() *CLIApplication {
	return &CLIApplication{
		configurationLoader: viper.New(),
		loggerFactory:       newProductionLogger,
	}
}

func newProductionLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// WithLoggerFactory overrides the logger factory.
func (application *CLIApplication) WithLoggerFactory(loggerFactory LoggerFactory) *CLIApplication {
	application.loggerFactory = loggerFactory
	return application
}

// Command builds the root Cobra command with its subcommands.
func (application *CLIApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
	}

	application.configurationLoader.SetDefault(environmentKeyStoreURL, defaultStoreURL)
	application.configurationLoader.SetDefault(environmentKeyRequestTimeout, time.Duration(0))
	application.configurationLoader.AutomaticEnv()

	persistentFlags := rootCommand.PersistentFlags()
	persistentFlags.String(flagNameStoreURL, defaultStoreURL, flagUsageStoreURL)
	persistentFlags.Duration(flagNameRequestTimeout, 0, flagUsageRequestTimeout)

	if bindErr := application.bindFlag(persistentFlags, environmentKeyStoreURL, flagNameStoreURL); bindErr != nil {
		return nil, bindErr
	}
	if bindErr := application.bindFlag(persistentFlags, environmentKeyRequestTimeout, flagNameRequestTimeout); bindErr != nil {
		return nil, bindErr
	}

	rootCommand.AddCommand(
		application.submitCommand(),
		application.listCommand(),
		application.deleteCommand(),
	)

	return rootCommand, nil
}

func (application *CLIApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}
	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}
	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}
	return nil
}

// commandDependencies are built per invocation from the resolved configuration.
type commandDependencies struct {
	storeClient *client.Client
	logger      *zap.Logger
}

func (application *CLIApplication) dependencies() (commandDependencies, func(), error) {
	requestTimeout := application.configurationLoader.GetDuration(environmentKeyRequestTimeout)
	if requestTimeout < 0 {
		return commandDependencies{}, nil, fmt.Errorf("%s: %s", invalidConfigurationMessage, negativeRequestTimeoutMessage)
	}

	storeClient, clientErr := client.New(strings.TrimSpace(application.configurationLoader.GetString(environmentKeyStoreURL)), requestTimeout)
	if clientErr != nil {
		return commandDependencies{}, nil, fmt.Errorf("%s: %w", storeClientCreationErrorPrefix, clientErr)
	}

	logger, loggerErr := application.loggerFactory()
	if loggerErr != nil {
		return commandDependencies{}, nil, fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	release := func() {
		_ = logger.Sync()
	}

	return commandDependencies{storeClient: storeClient, logger: logger}, release, nil
}

func main() {
	application := NewCLIApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}

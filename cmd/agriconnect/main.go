// Package main is the entry point for the agriconnect gateway and CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/catalog"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/checkout"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/client"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/config"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/dashboard"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/middleware"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

// skipApp marks commands that run without configuration or local state.
const skipApp = "skip-app"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &rootOptions{}
	root := newRootCmd(opts)
	root.SetArgs(args)

	// Post-run hooks are skipped when a command fails.
	defer func() { _ = opts.teardown() }()

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	storage   storage.Storage
	session   *session.Session
	cart      *cart.Store
	client    *client.Client
	catalog   *catalog.Service
	checkout  *checkout.Service
	dashboard *dashboard.Service
}

// newApp opens local state and wires the marketplace client and services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := storage.Open(cfg.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	sess := session.Load(ctx, st, logger)
	store := cart.New(ctx, st, logger)

	backend, err := client.New(client.Options{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		Tokens:    sess,
		RequestID: middleware.RequestIDFromContext,
		Logger:    logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating marketplace client: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		storage:   st,
		session:   sess,
		cart:      store,
		client:    backend,
		catalog:   catalog.NewService(backend, store, logger),
		checkout:  checkout.NewService(backend, store, logger),
		dashboard: dashboard.NewService(backend, sess, logger),
	}, nil
}

// Close releases local state.
func (a *app) Close() error {
	return a.storage.Close()
}

// rootOptions are the persistent flags and the state built from them.
type rootOptions struct {
	logLevel string
	jsonOut  bool

	app *app
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "agriconnect",
		Short: "AgriConnect marketplace gateway",
		Long: `agriconnect keeps a local cart and marketplace session and exposes them
through a REST/WebSocket gateway (serve) or directly from the command line.

Configuration comes from the file named by APP_CONFIG_FILE and APP_*
environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return opts.teardown()
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides APP_LOG_LEVEL")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newSignupCmd(opts),
		newWhoamiCmd(opts),
		newProductsCmd(opts),
		newCartCmd(opts),
		newCheckoutCmd(opts),
		newOrdersCmd(opts),
		newProfileCmd(opts),
		newCropPlansCmd(opts),
		newDashboardCmd(opts),
		newHashPasswordCmd(),
	)

	return root
}

// setup loads configuration and builds the app. Commands other than serve log
// to stderr at warn level unless --log-level says otherwise.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	output := "stdout"
	if cmd.Name() != "serve" {
		level = "warn"
		output = "stderr"
	}
	if o.logLevel != "" {
		level = o.logLevel
	}

	logger, err := initLogger(level, output)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	o.app = a
	return nil
}

func (o *rootOptions) teardown() error {
	if o.app == nil {
		return nil
	}

	err := o.app.Close()
	_ = o.app.logger.Sync()
	o.app = nil

	if err != nil && !errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}

// initLogger initializes a zap logger with the specified log level that
// writes JSON to output.
func initLogger(level, output string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	if output == "" {
		output = "stdout"
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/server"
)

// serveFlags are the command-line overrides for config.Config. A flag only
// wins over the environment when it was set explicitly.
type serveFlags struct {
	envFiles          []string
	debug             bool
	tenantID          string
	clientID          string
	scopes            string
	httpAddr          string
	metricsEnabled    bool
	metricsAddr       string
	logFormat         string
	deviceCodeTimeout time.Duration
	tokenCache        string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sign in and start the HTTP API",
		Long: `Sign in to Microsoft Graph with the device code flow and start the HTTP API.

The sign-in happens once, before the listener opens: mailgate prints a URL and
a code, waits until the code is redeemed in a browser and only then accepts
requests. If sign-in fails or times out the command exits with an error.

Configuration is read from a .env file and the environment (MAILGATE_TENANT_ID,
MAILGATE_CLIENT_ID, MAILGATE_SCOPES, MAILGATE_API_KEY, ...; the unprefixed
TENANT_ID, CLIENT_ID, GRAPH_USER_SCOPES and API_KEY are accepted too). Flags
override both.

When MAILGATE_API_KEY is set, every /api/v1 route except /api/v1/health
requires "Authorization: Bearer <key>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.envFiles...)
			if err != nil {
				return err
			}
			applyFlags(cmd, &flags, cfg)
			cfg.Version = version
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&flags.envFiles, "env-file", nil, "Env files to load (default .env)")
	f.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	f.StringVar(&flags.tenantID, "tenant-id", "", "Entra ID tenant (overrides MAILGATE_TENANT_ID)")
	f.StringVar(&flags.clientID, "client-id", "", "Application (client) ID (overrides MAILGATE_CLIENT_ID)")
	f.StringVar(&flags.scopes, "scopes", "", "Space or comma separated Graph scopes (overrides MAILGATE_SCOPES)")
	f.StringVar(&flags.httpAddr, "http-addr", config.DefaultHTTPAddr, "API listen address")
	f.BoolVar(&flags.metricsEnabled, "metrics", true, "Serve Prometheus metrics on --metrics-addr")
	f.StringVar(&flags.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics listen address")
	f.StringVar(&flags.logFormat, "log-format", config.DefaultLogFormat, "Log format: json or text")
	f.DurationVar(&flags.deviceCodeTimeout, "device-code-timeout", config.DefaultDeviceCodeTimeout, "How long to wait for the device code to be redeemed")
	f.StringVar(&flags.tokenCache, "token-cache", "", "Persist the token to this file so restarts can skip sign-in")
	f.Lookup("token-cache").NoOptDefVal = credential.DefaultCachePath()

	return cmd
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, flags *serveFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if flags.debug {
		cfg.LogLevel = "debug"
	}
	if changed("tenant-id") {
		cfg.TenantID = flags.tenantID
	}
	if changed("client-id") {
		cfg.ClientID = flags.clientID
	}
	if changed("scopes") {
		cfg.Scopes = config.ParseScopes(flags.scopes)
	}
	if changed("http-addr") {
		cfg.HTTPAddr = flags.httpAddr
	}
	if changed("metrics") {
		cfg.MetricsEnabled = flags.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if changed("device-code-timeout") {
		cfg.DeviceCodeTimeout = flags.deviceCodeTimeout
	}
	if changed("token-cache") {
		cfg.TokenCachePath = flags.tokenCache
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = cfg.Version

	logger := logging.New(logging.Options{
		Level:       logging.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		Writer:      cmd.ErrOrStderr(),
		OTel:        instrConfig.Enabled && instrConfig.LogsExporter == instrumentation.ExporterOTLP,
		ServiceName: instrConfig.ServiceName,
	})
	slog.SetDefault(logger)

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	holder, err := credential.NewHolder(credential.Config{
		TenantID:          cfg.TenantID,
		ClientID:          cfg.ClientID,
		Scopes:            cfg.Scopes,
		AuthorityHost:     cfg.AuthorityHost,
		DeviceCodeTimeout: cfg.DeviceCodeTimeout,
		RequestTimeout:    cfg.UpstreamTimeout,
		TokenCachePath:    cfg.TokenCachePath,
		Prompter:          credential.WriterPrompter{W: cmd.ErrOrStderr()},
		Metrics:           provider.Metrics(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("invalid credential configuration: %w", err)
	}

	// No listener exists until the session does.
	logger.Info("signing in", logging.Tenant(cfg.TenantID), slog.Any("scopes", cfg.Scopes))
	if err := holder.Initialize(ctx); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	mail, err := graph.NewClient(holder, graph.Config{
		BaseURL: cfg.GraphBaseURL,
		Timeout: cfg.UpstreamTimeout,
		Metrics: provider.Metrics(),
		Audit:   provider.Audit(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	serverContext, err := server.NewServerContext(ctx, holder, mail)
	if err != nil {
		return err
	}

	api, err := server.NewAPIServer(serverContext, server.Config{
		Addr:    cfg.HTTPAddr,
		APIKey:  cfg.APIKey,
		AppName: cfg.AppName,
		Version: cfg.Version,
		Metrics: provider.Metrics(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	if !cfg.CallerAuthEnabled() {
		logger.Warn("caller authentication disabled; set MAILGATE_API_KEY to require a Bearer key")
	}

	return serveUntilDone(ctx, logger, api, metricsServer)
}

// serveUntilDone runs the API (and metrics) server until ctx is cancelled or
// one of them fails, then shuts both down.
func serveUntilDone(ctx context.Context, logger *slog.Logger, api *server.APIServer, metrics *server.MetricsServer) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(api.Start)
	if metrics != nil {
		g.Go(metrics.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		var errs []error
		if metrics != nil {
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}
		if err := api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("servers stopped")
	return nil
}

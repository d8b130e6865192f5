package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harrylevesque/mindgate/internal/api"
	"github.com/harrylevesque/mindgate/internal/auth"
	"github.com/harrylevesque/mindgate/internal/certs"
	"github.com/harrylevesque/mindgate/internal/config"
	"github.com/harrylevesque/mindgate/internal/crypto"
	"github.com/harrylevesque/mindgate/internal/mlclient"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/retry"
	"github.com/harrylevesque/mindgate/internal/utils"
)

var (
	configPath string
	convertTo  string
	showRoute  bool

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:          "mindgate",
	Short:        "API gateway between the clinical dashboard and the ML backend",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Runs the HTTP gateway. The config file is watched and route rules and
the log level are reloaded when it changes; other settings need a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var mapPathCmd = &cobra.Command{
	Use:   "map-path <path>",
	Short: "Print the backend path a dashboard path is sent to",
	Example: `  mindgate map-path /api/patients/42/risk-assessment
  mindgate map-path --route brain-models/7/regions`,
	Args: cobra.ExactArgs(1),
	RunE: runMapPath,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the keys of a JSON document on stdin",
	Args:  cobra.NoArgs,
	RunE:  runConvert,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "mindgate", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./"+config.DefaultFile+" or the project root)")
	mapPathCmd.Flags().BoolVar(&showRoute, "route", false, "also print the matched rule and parameters")
	convertCmd.Flags().StringVar(&convertTo, "to", "snake", "target casing: snake or camel")
	rootCmd.AddCommand(serveCmd, mapPathCmd, convertCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, level, err := utils.NewLogger(utils.LogOptions{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	key, err := cfg.PseudonymKey()
	if err != nil {
		return err
	}
	if key == nil {
		logger.Warn("no pseudonym key configured, log pseudonyms change on restart")
	}
	pseudo, err := crypto.NewPseudonymizer(key)
	if err != nil {
		return fmt.Errorf("pseudonym key: %w", err)
	}

	httpClient, err := backendClient(cfg, logger)
	if err != nil {
		return err
	}
	retrier := retry.New(cfg.RetryPolicy(), retry.WithLogger(logger))

	mapper, err := cfg.Mapper()
	if err != nil {
		return err
	}
	fwd, err := proxy.NewForwarder(proxy.ForwarderOptions{
		BackendURL: cfg.Backend.BaseURL,
		Client:     httpClient,
		Mapper:     mapper,
		Retrier:    retrier,
		Pseudo:     pseudo,
		Logger:     logger.Named("proxy"),
	})
	if err != nil {
		return err
	}
	ml, err := mlclient.New(cfg.MLURL(),
		mlclient.WithHTTPClient(httpClient),
		mlclient.WithRetrier(retrier),
		mlclient.WithLogger(logger.Named("ml")))
	if err != nil {
		return err
	}

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewHandler(api.Deps{
			ML:          ml,
			Forwarder:   fwd,
			Auth:        auth.NewMiddleware(verifier, cfg.Auth.Required, logger.Named("auth")),
			Pseudo:      pseudo,
			Logger:      logger.Named("http"),
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("backend", cfg.Backend.BaseURL),
			zap.Int("routes", len(mapper.Rules())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if path := watchedPath(); path != "" {
		w := config.NewWatcher(path, logger.Named("config"), func(next *config.Config) {
			m, err := next.Mapper()
			if err != nil {
				logger.Error("route reload failed", zap.Error(err))
				return
			}
			fwd.SetMapper(m)
			if err := utils.SetLevel(level, next.Logging.Level); err != nil {
				logger.Error("log level reload failed", zap.Error(err))
			}
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func watchedPath() string {
	if configPath != "" {
		return configPath
	}
	return utils.FindFile(config.DefaultFile)
}

func backendClient(cfg *config.Config, logger *zap.Logger) (*http.Client, error) {
	client := &http.Client{Timeout: cfg.Backend.Timeout}
	if cfg.Backend.CAFile == "" {
		return client, nil
	}
	transport, err := certs.NewCertManager(cfg.Backend.CAFile, logger.Named("certs")).Transport()
	if err != nil {
		return nil, fmt.Errorf("backend CA: %w", err)
	}
	client.Transport = transport
	return client, nil
}

func runMapPath(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	m, err := cfg.Mapper()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, m.MapPath(args[0]))
	if showRoute {
		route, ok := m.Match(args[0])
		if !ok {
			fmt.Fprintln(out, "rule: none (pass-through)")
			return nil
		}
		fmt.Fprintf(out, "rule: %s (%s -> %s)\n", route.Rule.Name, route.Rule.Pattern, route.Rule.Target)
		for k, v := range route.Params {
			fmt.Fprintf(out, "  :%s = %s\n", k, v)
		}
		if route.Rest != "" {
			fmt.Fprintf(out, "  * = %s\n", route.Rest)
		}
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	var conv func(string) string
	switch convertTo {
	case "snake":
		conv = proxy.ToSnakeCase
	case "camel":
		conv = proxy.ToCamelCase
	default:
		return fmt.Errorf("--to must be snake or camel, got %q", convertTo)
	}
	in, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return err
	}
	out, err := proxy.ConvertJSON(in, conv, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// Package main provides storectl, a command-line client for a content store.
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

	"github.com/fruitsalade/storeclient/internal/config"
	"github.com/fruitsalade/storeclient/internal/logging"
	"github.com/fruitsalade/storeclient/internal/metrics"
	"github.com/fruitsalade/storeclient/pkg/client"
	"github.com/fruitsalade/storeclient/pkg/retry"
)

// Exit codes by error class.
const (
	exitOK = iota
	exitUnknown
	exitConfig
	exitAuth
	exitRejected
	exitConnectivity
	exitDecode
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stdin)
	err := cmd.ExecuteContext(ctx)
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch client.Classify(err) {
	case client.ClassNone:
		return exitOK
	case client.ClassConfig:
		return exitConfig
	case client.ClassAuth:
		return exitAuth
	case client.ClassRejected:
		return exitRejected
	case client.ClassConnectivity, client.ClassCanceled:
		return exitConnectivity
	case client.ClassDecode:
		return exitDecode
	}
	return exitUnknown
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	baseURL    string
	login      string
	token      string
	tokenFile  string
	logLevel   string
	logFormat  string
	metrics    string
	retries    int
	jsonOut    bool
}

// app carries what a command needs once the root command has run its
// setup.
type app struct {
	cfg     *config.Config
	client  *client.Client
	logger  *zap.Logger
	retry   retry.Config
	out     io.Writer
	in      io.Reader
	jsonOut bool
}

func newRootCmd(out io.Writer, in io.Reader) *cobra.Command {
	var flags globalFlags
	a := &app{out: out, in: in}

	root := &cobra.Command{
		Use:           "storectl",
		Short:         "Browse and manage a content store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, &flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "config file path")
	pf.StringVar(&flags.baseURL, "base-url", "", "store base URL, overrides every other setting")
	pf.StringVar(&flags.login, "login", "", "account login used to compute the store URL")
	pf.StringVar(&flags.token, "token", "", "bearer token")
	pf.StringVar(&flags.tokenFile, "token-file", "", "token file written by 'storectl login'")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format (console, json)")
	pf.StringVar(&flags.metrics, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.IntVar(&flags.retries, "retries", 3, "attempts for read-only requests")
	pf.BoolVar(&flags.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.healthCmd(),
		a.rootNodeCmd(),
		a.getCmd(),
		a.lsCmd(),
		a.pathCmd(),
		a.catCmd(),
		a.mkdirCmd(),
		a.putCmd(),
		a.updateCmd(),
		a.rmCmd(),
		a.peersCmd(),
		a.statusCmd(),
		a.searchCmd(),
		a.exportCmd(),
		a.loginCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if v := os.Getenv("STORECTL_CONFIG"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return dir + "/mbyte/storectl.yaml"
}

func (a *app) setup(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Login, flags.login)
	set(&cfg.Token, flags.token)
	set(&cfg.TokenFile, flags.tokenFile)
	set(&cfg.LogLevel, flags.logLevel)
	set(&cfg.LogFormat, flags.logFormat)
	set(&cfg.MetricsAddr, flags.metrics)
	a.cfg = cfg
	a.jsonOut = flags.jsonOut

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger = logging.L()
	cmd.SetContext(logging.WithLogger(cmd.Context(), a.logger.With(zap.String("command", cmd.Name()))))

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}

	var tokens client.TokenProvider = client.NewFileTokenProvider(cfg.TokenFile)
	if cfg.Token != "" {
		tokens = client.StaticToken(cfg.Token)
	}

	var locator *client.Locator
	if cfg.Login != "" {
		locator = &client.Locator{Username: cfg.Login}
	}

	c, err := client.New(client.Config{
		BaseURLOverride: flags.baseURL,
		BaseURL:         cfg.BaseURL,
		Locator:         locator,
		StoresDomain:    cfg.StoresDomain,
		StoresScheme:    cfg.StoresScheme,
		Tokens:          tokens,
		Timeout:         cfg.Timeout,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}
	a.client = c

	a.retry = retry.DefaultConfig(client.IsTransient)
	a.retry.MaxAttempts = flags.retries
	a.retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		a.logger.Warn("retrying store request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	a.logger.Debug("storectl configured",
		zap.String("command", cmd.Name()),
		zap.String("base_url", c.BaseURL()))
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
}

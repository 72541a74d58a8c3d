// Package main is the entry point for the embed-email command. It rewrites
// .eml files so that the remote images their HTML references travel inside
// the message as inline attachments.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/shineum/embed-email/internal/config"
	"github.com/shineum/embed-email/internal/embed"
	"github.com/shineum/embed-email/internal/fetch"
	"github.com/shineum/embed-email/internal/provider"
	"github.com/shineum/embed-email/internal/provider/file"
	"github.com/shineum/embed-email/internal/provider/graph"
	"github.com/shineum/embed-email/internal/provider/ses"
	"github.com/shineum/embed-email/internal/provider/stdout"
	clienttls "github.com/shineum/embed-email/internal/tls"
)

// errUsage marks errors that are answered with the usage text and exit code 2.
var errUsage = errors.New("usage error")

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "embed-email: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// options holds the parsed command line.
type options struct {
	verbose     bool
	configPath  string
	concurrency int
	cacheDir    string
	reuseCache  bool
	provider    string
	args        []string

	flags *pflag.FlagSet
}

// parseFlags parses the command line. Help output and flag errors are
// written to w.
func parseFlags(args []string, w io.Writer) (*options, error) {
	opts := &options{}

	flags := pflag.NewFlagSet("embed-email", pflag.ContinueOnError)
	flags.SetOutput(w)
	flags.Usage = func() {
		fmt.Fprintf(w, "Usage: embed-email [flags] [file ...]\n\n")
		fmt.Fprintf(w, "Downloads the remote images of each email's HTML body and embeds them\n")
		fmt.Fprintf(w, "as inline attachments. Without file arguments every *.eml file below the\n")
		fmt.Fprintf(w, "working directory is processed.\n\nFlags:\n")
		flags.PrintDefaults()
	}

	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level, including per-download progress")
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (optional)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "maximum simultaneous downloads per email")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "directory downloaded images are stored in")
	flags.BoolVar(&opts.reuseCache, "reuse-cache", false, "reuse images already present in the cache directory")
	flags.StringVar(&opts.provider, "provider", "", "output provider: file, stdout, ses or graph")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts.args = flags.Args()
	opts.flags = flags
	return opts, nil
}

// apply overrides cfg with the flags given on the command line.
func (o *options) apply(cfg *config.Config) {
	if o.flags.Changed("concurrency") {
		cfg.Fetch.Concurrency = o.concurrency
	}
	if o.flags.Changed("cache-dir") {
		cfg.Fetch.CacheDir = o.cacheDir
	}
	if o.flags.Changed("reuse-cache") {
		cfg.Fetch.ReuseCache = o.reuseCache
	}
	if o.flags.Changed("provider") {
		cfg.Provider = strings.ToLower(o.provider)
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
}

func run(args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	opts.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	logger := newLogger(stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	proxy, err := cfg.ProxyURL()
	if err != nil {
		return err
	}
	tlsConfig, err := clienttls.ClientConfig(cfg.Fetch.CAFile, cfg.Fetch.InsecureSkipVerify)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	prov, err := selectProvider(ctx, cfg, proxy, logger)
	if err != nil {
		return err
	}

	finder := embed.Finder{
		Extension: cfg.Output.Extension,
		Suffix:    cfg.Output.Suffix,
		SkipDirs:  []string{cfg.Fetch.CacheDir},
	}
	inputs, err := finder.Resolve(opts.args)
	if err != nil {
		if errors.Is(err, embed.ErrNoInput) {
			opts.flags.Usage()
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return err
	}

	client := fetch.NewHTTPClient(fetch.ClientConfig{
		Timeout: cfg.Fetch.Timeout,
		Proxy:   proxy,
		TLS:     tlsConfig,
		MaxSize: cfg.Fetch.MaxSize,
	})
	fetcher := fetch.New(client, fetch.NewCache(cfg.Fetch.CacheDir), fetch.Options{
		Concurrency: cfg.Fetch.Concurrency,
		UserAgent:   cfg.Fetch.UserAgent,
		ReuseCache:  cfg.Fetch.ReuseCache,
		Logger:      logger,
	})

	logger.Info("starting embed-email",
		"files", len(inputs),
		"provider", prov.Name(),
		"concurrency", cfg.Fetch.Concurrency,
		"cache_dir", cfg.Fetch.CacheDir,
		"reuse_cache", cfg.Fetch.ReuseCache,
		"proxy", proxy != nil,
	)

	batch := embed.NewBatch(embed.New(fetcher, logger), prov, logger)
	if err := batch.Run(ctx, inputs); err != nil {
		return err
	}

	logger.Info("embed-email finished", "files", len(inputs))
	return nil
}

// exitCode maps an error returned by run to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newLogger builds a slog logger writing to w in the given format at the
// given level.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// selectProvider builds the output provider named in the configuration.
func selectProvider(ctx context.Context, cfg *config.Config, proxy *url.URL, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderFile:
		return file.New(cfg.Output.Extension, cfg.Output.Suffix, logger), nil

	case config.ProviderStdout:
		return stdout.New(), nil

	case config.ProviderSES:
		logger.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Recipients:      cfg.SES.Recipients,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		logger.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		if proxy != nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			Recipients:   cfg.Graph.Recipients,
			HTTPClient:   &http.Client{Timeout: 30 * time.Second, Transport: transport},
			Logger:       logger,
		}), nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", errUsage, cfg.Provider)
	}
}

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/fx-annotator/internal/api"
	"github.com/zombor/fx-annotator/internal/detect"
	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/settings"
	"github.com/zombor/fx-annotator/internal/storage"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand.
type rootConfig struct {
	logLevel     *string
	logFormat    *string
	dbPath       *string
	apiKey       *string
	ratesURL     *string
	ratesRPS     *float64
	ratesRetries *int
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("FX_ANNOTATOR")); err != nil {
		if errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *ff.Command {
	fs := ff.NewFlagSet("fx-annotator")
	cfg := rootConfig{
		logLevel:     fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat:    fs.StringLong("log-format", "text", "Log format: text or json"),
		dbPath:       fs.StringLong("db", "fx-annotator.db", "Database file path"),
		apiKey:       fs.StringLong("api-key", "", "exchangerate-api.com API key"),
		ratesURL:     fs.StringLong("rates-url", rates.DefaultBaseURL, "Exchange rate API base URL"),
		ratesRPS:     fs.Float64Long("rates-rps", 1, "Maximum exchange rate API requests per second"),
		ratesRetries: fs.IntLong("rates-retries", 3, "Retries for failed exchange rate requests"),
	}
	fs.BoolLong("version", "Show version information")

	return &ff.Command{
		Name:      "fx-annotator",
		Usage:     "fx-annotator [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "detect prices in web pages and annotate them in your currency",
		Flags:     fs,
		Subcommands: []*ff.Command{
			newServeCommand(fs, cfg),
			newAnnotateCommand(fs, cfg),
			newDetectCommand(fs, cfg),
			newRatesCommand(fs, cfg),
		},
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(handler), nil
}

// deps are the long lived collaborators built from the root flags.
type deps struct {
	logger   *slog.Logger
	db       *storage.BoltDB
	settings *settings.Store
	provider *rates.Provider
}

func (d *deps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

func setup(cfg rootConfig) (*deps, error) {
	logger, err := newLogger(*cfg.logLevel, *cfg.logFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	slog.Debug("Initializing database...", "path", *cfg.dbPath)
	db, err := storage.NewBoltDB(*cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	if *cfg.apiKey == "" {
		slog.Warn("No exchange rate API key set; only cached rates are available")
	}
	client := rates.NewClient(rates.ClientOptions{
		BaseURL:           *cfg.ratesURL,
		APIKey:            *cfg.apiKey,
		MaxRetries:        *cfg.ratesRetries,
		RequestsPerSecond: *cfg.ratesRPS,
		Logger:            logger,
	})

	return &deps{
		logger:   logger,
		db:       db,
		settings: settings.NewStore(db, logger),
		provider: rates.NewProvider(client, db, rates.ProviderOptions{Logger: logger}),
	}, nil
}

func newServeCommand(parent *ff.FlagSet, cfg rootConfig) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		addr       = fs.StringLong("addr", ":8080", "HTTP listen address")
		authUser   = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass   = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		rps        = fs.Float64Long("rps", 0, "API requests per second, 0 for unlimited")
		sessionTTL = fs.DurationLong("session-ttl", api.DefaultSessionTTL, "Idle page session lifetime")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "fx-annotator serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			d, err := setup(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			service := api.NewService(api.ServiceOptions{
				Rates:      d.provider,
				Settings:   d.settings,
				Detector:   detect.New(d.logger),
				SessionTTL: *sessionTTL,
				Logger:     d.logger,
			})
			server := api.NewServer(service, api.ServerOptions{
				BasicAuth:         api.BasicAuth{Username: *authUser, Password: *authPass},
				RequestsPerSecond: *rps,
			})

			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}
			return server.Run(ctx, *addr)
		},
	}
}

// overrideBackend applies command line overrides on top of the saved settings
// without persisting them.
type overrideBackend struct {
	settings.Backend
	base     string
	decimals int
}

func (o overrideBackend) GetSettings() (settings.Settings, error) {
	s, err := o.Backend.GetSettings()
	if errors.Is(err, settings.ErrNotFound) {
		s, err = settings.Defaults(), nil
	}
	if err != nil {
		return settings.Settings{}, err
	}
	if o.base != "" {
		s.BaseCurrency = strings.ToUpper(o.base)
	}
	if o.decimals >= 0 {
		s.DecimalPlaces = o.decimals
	}
	if err := s.Validate(); err != nil {
		return settings.Settings{}, err
	}
	return s, nil
}

func newAnnotateCommand(parent *ff.FlagSet, cfg rootConfig) *ff.Command {
	fs := ff.NewFlagSet("annotate").SetParent(parent)
	var (
		host     = fs.StringLong("host", "", "Host the page was served from")
		base     = fs.StringLong("base", "", "Target currency, overriding the saved settings")
		decimals = fs.IntLong("decimals", -1, "Decimal places, overriding the saved settings")
	)

	return &ff.Command{
		Name:      "annotate",
		Usage:     "fx-annotator annotate [FLAGS] [FILE]",
		ShortHelp: "annotate an HTML page and write it to stdout",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			d, err := setup(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			in, closeIn, err := openInput(args)
			if err != nil {
				return err
			}
			defer closeIn()

			store := settings.NewStore(overrideBackend{Backend: d.db, base: *base, decimals: *decimals}, d.logger)
			service := api.NewService(api.ServiceOptions{
				Rates:    d.provider,
				Settings: store,
				Logger:   d.logger,
			})
			defer service.Close()

			result, err := service.Annotate(ctx, *host, in)
			if err != nil {
				return err
			}
			for _, n := range result.Notices {
				slog.Warn(n.Message, "kind", n.Kind)
			}
			slog.Info("Annotated page", "annotated", result.Stats.Annotated, "candidates", result.Stats.Last.Candidates)
			_, err = io.WriteString(os.Stdout, result.HTML)
			return err
		},
	}
}

func newDetectCommand(parent *ff.FlagSet, cfg rootConfig) *ff.Command {
	fs := ff.NewFlagSet("detect").SetParent(parent)

	return &ff.Command{
		Name:      "detect",
		Usage:     "fx-annotator detect [TEXT ...]",
		ShortHelp: "print the prices found in text as JSON",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			logger, err := newLogger(*cfg.logLevel, *cfg.logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(data)
			}

			found := detect.New(logger).Detect(text)
			if found == nil {
				found = []detect.Detection{}
			}
			return printJSON(found)
		},
	}
}

func newRatesCommand(parent *ff.FlagSet, cfg rootConfig) *ff.Command {
	fs := ff.NewFlagSet("rates").SetParent(parent)
	var (
		base       = fs.StringLong("base", "", "Base currency, defaults to the saved settings")
		clearCache = fs.BoolLong("clear", "Clear cached rates before fetching")
		timeout    = fs.DurationLong("timeout", 30*time.Second, "Overall fetch timeout")
	)

	return &ff.Command{
		Name:      "rates",
		Usage:     "fx-annotator rates [FLAGS]",
		ShortHelp: "fetch and print an exchange rate table",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			d, err := setup(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if *clearCache {
				if err := d.provider.ClearCache(); err != nil {
					return err
				}
				slog.Info("Cleared rate cache")
			}

			code := *base
			if code == "" {
				current, err := d.settings.Load()
				if err != nil {
					return err
				}
				code = current.BaseCurrency
			}

			ctx, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()
			resp, err := d.provider.GetRates(ctx, code)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func openInput(args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", args[0], err)
	}
	return f, func() { f.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/books-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flag values bound in newRootCmd. A fresh
// struct per root command keeps tests independent of each other.
type CLIFlags struct {
	ConfigPath   string
	User         string
	ClientSecret string
	Grant        string
	TokenStore   string
	Workers      int
	JSON         bool
	Verbose      bool
	Debug        bool
	Quiet        bool
}

// CLIContext is everything a subcommand needs after the root pre-run phase:
// the parsed flags, the resolved configuration and a logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by PersistentPreRunE, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext is cliContextFrom for RunE bodies, where the pre-run phase
// has always run. A missing context is a wiring bug.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not initialized; PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "books-go",
		Short:   "Google Books library CLI",
		Long:    "Authorize against Google and list the bookshelves and volumes in your Books library.",
		Version: version,
		// Silence Cobra's default error/usage printing, main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.User, "user", "", "credential subject (cache key)")
	pf.StringVar(&flags.ClientSecret, "client-secret", "", "client secret JSON file")
	pf.StringVar(&flags.Grant, "grant", "", "interactive grant: auto, browser or device")
	pf.StringVar(&flags.TokenStore, "token-store", "", "credential store backend: file or sqlite")
	pf.IntVar(&flags.Workers, "workers", 0, "parallel nested listing requests (1-16)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable info logging")
	pf.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newReauthCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newShelvesCmd())
	cmd.AddCommand(newDemoCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger for the rest of the command.
func loadCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	// Config resolution logs at debug level; honor --debug before the
	// config's own log_level is known.
	bootstrap := buildLogger(nil, flags)

	cli := config.CLIOverrides{
		ConfigPath:       flags.ConfigPath,
		User:             flags.User,
		ClientSecretFile: flags.ClientSecret,
		Grant:            flags.Grant,
		TokenStore:       flags.TokenStore,
	}

	// Only pass --workers to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("workers") {
		workers := flags.Workers
		cli.NestedWorkers = &workers
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(bootstrap), cli, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Flags:  flags,
		Cfg:    resolved,
		Logger: buildLogger(resolved, flags),
	}, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose, --debug
// and --quiet override it because CLI flags always win. cfg may be nil.
func buildLogger(cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	return newLogger(os.Stderr, cfg, flags)
}

func newLogger(w io.Writer, cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is a character device (an interactive
// terminal). Non-file writers are treated as not a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	exitWithCode(err, 1)
}

func exitWithCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}

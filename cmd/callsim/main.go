// Command callsim runs sales call simulations against voice agent personas
// and monitors them live.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/callsim/internal/config"
	"github.com/sweeney/callsim/internal/console"
	"github.com/sweeney/callsim/internal/platform"
)

// Version is set at build time.
var Version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	cfgPath string
	dir     *config.Directory
	logger  *slog.Logger
	out     *console.Printer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		console.New(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	a := &app{out: console.New(out)}

	cmd := &cobra.Command{
		Use:   "callsim",
		Short: "Sales call simulator and live call monitor",
		Long: `callsim places outbound calls to simulated prospects hosted on the
voice platform, receives their live events over a webhook and serves a
dashboard of active calls.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default $"+config.EnvConfigPath+" or built-in)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		listCmd(a),
		getCmd(a),
		phonesCmd(a),
		callsCmd(a),
		detailsCmd(a),
		analysisCmd(a),
		callCmd(a),
		personaConfigCmd(a),
		syncCmd(a),
		configureCmd(a),
		webhookCmd(a),
		serveCmd(a),
		versionCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	level, err := parseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	cfg, path, err := config.Resolve(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.cfgPath = path
	a.dir = config.NewDirectory(cfg)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// client builds the platform client. It fails without an API key.
func (a *app) client() (*platform.Client, error) {
	return platform.New(a.cfg.Platform.APIKey, platform.WithBaseURL(a.cfg.Platform.BaseURL))
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(*cobra.Command, []string) {
			a.out.Printf("callsim %s\n", Version)
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idilsaglam/livetodo/internal/auth"
	"github.com/idilsaglam/livetodo/internal/config"
	"github.com/idilsaglam/livetodo/internal/logging"
	"github.com/idilsaglam/livetodo/internal/supabase"
	"github.com/idilsaglam/livetodo/internal/ui"
)

type App struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config

	out, errOut io.Writer
	printer     *ui.Printer

	logger    *log.Logger
	logCloser io.Closer
}

func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "todo",
		Short:         "A to-do list kept live against a hosted table",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.NoArgs),
		Example: strings.TrimSpace(`
  # Start the live view
  todo --url https://xyz.supabase.co --key <anon-key>

  # Scriptable commands
  todo add "Buy milk"
  todo ls --group
  todo done 3

  # Local backend for development
  todo serve --addr :54321
`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.configure(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => live view.
			return runLive(cmd.Context(), app)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&app.cfgFile, "config", "", "config file (default ./tada.yaml or ~/.tada/tada.yaml)")
	pf.String(config.KeyURL, "", "project URL")
	pf.String(config.KeyAPIKey, "", "project API key")
	pf.String(config.KeyTable, supabase.DefaultTable, "table name")
	pf.String(config.KeySchema, supabase.DefaultSchema, "schema name")
	pf.Bool(config.KeyOrder, true, "order items by creation time")
	pf.Duration(config.KeyTimeout, 10*time.Second, "per-request timeout")
	pf.Duration(config.KeyHeartbeat, 25*time.Second, "realtime heartbeat interval")
	pf.String(config.KeyLogFile, "", "log file, - for stderr")
	pf.String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	pf.String(config.KeyTheme, "classic", "color theme (classic, neon, mono)")
	pf.String(config.KeyColor, "auto", "color output (auto, always, never)")

	cmd.AddCommand(
		newLiveCmd(app),
		newListCmd(app),
		newAddCmd(app),
		newRemoveCmd(app),
		newDoneCmd(app),
		newWatchCmd(app),
		newServeCmd(app),
		newAuthCmd(app),
	)
	return cmd
}

func (a *App) configure(cmd *cobra.Command) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return usageError{err: err}
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return usageError{err: err}
	}
	a.v, a.cfg = v, cfg
	a.printer = ui.NewPrinter(a.out, a.errOut, cfg.Theme, cfg.Color)
	return nil
}

// openLog starts the diagnostic logger; fallback is used when no log file
// is configured.
func (a *App) openLog(fallback string) error {
	path := a.cfg.LogFile
	if path == "" {
		path = fallback
	}
	logger, closer, err := logging.Open(path, a.cfg.LogLevel, "todo")
	if err != nil {
		return usageError{err: err}
	}
	a.logger, a.logCloser = logger, closer
	return nil
}

func (a *App) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// client builds the remote table client from config and the stored token.
func (a *App) client() (*supabase.Client, error) {
	if err := a.cfg.RequireRemote(); err != nil {
		return nil, usageError{err: err}
	}
	if a.logger == nil {
		if err := a.openLog(logging.Stderr); err != nil {
			return nil, err
		}
	}
	tok, err := auth.GetToken()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	opts := supabase.Options{
		URL:               a.cfg.URL,
		APIKey:            a.cfg.APIKey,
		Schema:            a.cfg.Schema,
		Table:             a.cfg.Table,
		OrderByCreated:    a.cfg.Ordered,
		HeartbeatInterval: a.cfg.Heartbeat,
		Logger:            a.logger,
	}
	if tok != nil {
		opts.AccessToken = tok.Token
	}
	c, err := supabase.New(opts)
	if err != nil {
		return nil, usageError{err: err}
	}
	return c, nil
}

func (a *App) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.Timeout)
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/livetodo/internal/config"
	"github.com/idilsaglam/livetodo/internal/logging"
	"github.com/idilsaglam/livetodo/internal/model"
	"github.com/idilsaglam/livetodo/internal/supabase"
	"github.com/idilsaglam/livetodo/internal/syncer"
	"github.com/idilsaglam/livetodo/internal/tui"
	"github.com/idilsaglam/livetodo/internal/ui"
)

func newLiveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Open the live view (default)",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context(), app)
		},
	}
}

func runLive(ctx context.Context, app *App) error {
	// The view owns the terminal; diagnostics go to a file.
	if err := app.openLog(config.DefaultLogFile()); err != nil {
		return err
	}
	c, err := app.client()
	if err != nil {
		return err
	}
	s := syncer.New(c, feed(c), syncer.Options{Timeout: app.cfg.Timeout, Logger: app.logger})
	return tui.Run(ctx, s, ui.TerminalTheme(app.cfg.Theme, app.cfg.Color))
}

func feed(c *supabase.Client) syncer.Feed {
	return syncer.FeedFunc(func(ctx context.Context) (syncer.Subscription, error) {
		ch, err := c.Subscribe(ctx)
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print row changes as they happen",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openLog(logging.Stderr); err != nil {
				return err
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			subCtx, cancel := app.timeout(cmd.Context())
			ch, err := c.Subscribe(subCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer ch.Close()
			app.logger.Info("watching", "table", c.Table())

			th := app.printer.Theme()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case change, ok := <-ch.Changes():
					if !ok {
						if err := ch.Err(); err != nil {
							return fmt.Errorf("watch: %w", err)
						}
						return nil
					}
					app.printer.Println(changeLine(th, change))
				}
			}
		},
	}
}

func changeLine(th ui.Theme, c model.Change) string {
	switch c.Type {
	case model.ChangeInsert:
		return fmt.Sprintf("%s #%d %s", th.Success.Render("+"), c.Record.ID, c.Record.Name)
	case model.ChangeUpdate:
		box := th.BoxUnchecked
		if c.Record.IsCompleted {
			box = th.BoxChecked
		}
		return fmt.Sprintf("%s #%d %s %s", th.Accent.Render("~"), c.Record.ID, box, c.Record.Name)
	case model.ChangeDelete:
		return fmt.Sprintf("%s #%d", th.Error.Render("-"), c.OldRecord.ID)
	}
	return fmt.Sprintf("? %s", c.Type)
}

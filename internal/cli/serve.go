package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/livetodo/internal/devserver"
	"github.com/idilsaglam/livetodo/internal/logging"
)

func newServeCmd(app *App) *cobra.Command {
	var addr, db string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local backend speaking the REST and realtime protocols",
		Long: `Run a local backend for development.

Rows live in a SQLite file. Clients connect with --url http://<addr>;
when --key is set, requests must carry it.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openLog(logging.Stderr); err != nil {
				return err
			}
			store, err := devserver.OpenStore(db, app.cfg.Table)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer store.Close()

			srv := devserver.New(store, devserver.Options{
				APIKey: app.cfg.APIKey,
				Schema: app.cfg.Schema,
				Logger: app.logger,
			})
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:54321", "listen address")
	cmd.Flags().StringVar(&db, "db", "todo.sqlite", "SQLite database file")
	return cmd
}

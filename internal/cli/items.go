package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/livetodo/internal/model"
	"github.com/idilsaglam/livetodo/internal/supabase"
	"github.com/idilsaglam/livetodo/internal/syncer"
	"github.com/idilsaglam/livetodo/internal/ui"
)

func newListCmd(app *App) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List items",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			ctx, cancel := app.timeout(cmd.Context())
			defer cancel()
			items, err := c.List(ctx)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			app.printer.Panel(listLines(app.printer.Theme(), syncer.NewCollection(items), group))
			return nil
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "group output by pending/done")
	return cmd
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name...>",
		Short: "Add an item (name can be multiple words)",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := joinArgs(args)
			if name == "" {
				return usagef("add: empty name")
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			ctx, cancel := app.timeout(cmd.Context())
			defer cancel()
			it, err := c.Insert(ctx, model.NewItem{Name: name})
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			app.printer.OK(fmt.Sprintf("added #%d %s", it.ID, it.Name))
			return nil
		},
	}
}

func newRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("rm", args[0])
			if err != nil {
				return err
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			ctx, cancel := app.timeout(cmd.Context())
			defer cancel()
			if err := c.Delete(ctx, id); err != nil {
				return fmt.Errorf("rm: %w", err)
			}
			app.printer.OK(fmt.Sprintf("removed #%d", id))
			return nil
		},
	}
}

func newDoneCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle the completion of an item",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("done", args[0])
			if err != nil {
				return err
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			ctx, cancel := app.timeout(cmd.Context())
			defer cancel()
			it, err := c.Get(ctx, id)
			if err != nil {
				var reqErr *supabase.RequestError
				if errors.As(err, &reqErr) && reqErr.Status == http.StatusNotAcceptable {
					return fmt.Errorf("done: no item #%d", id)
				}
				return fmt.Errorf("done: %w", err)
			}
			it, err = c.SetCompleted(ctx, id, !it.IsCompleted)
			if err != nil {
				return fmt.Errorf("done: %w", err)
			}
			if it.IsCompleted {
				app.printer.OK(fmt.Sprintf("completed #%d %s", id, it.Name))
			} else {
				app.printer.OK(fmt.Sprintf("reopened #%d %s", id, it.Name))
			}
			return nil
		},
	}
}

func parseID(verb, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usagef("%s: not an item id: %s", verb, s)
	}
	return id, nil
}

// -------------- rendering helpers --------------

func listLines(th ui.Theme, items syncer.Collection, group bool) []string {
	d, p := items.Stats()
	header := fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		th.Title.Render("Todos"),
		th.Success.Render(th.SymDone), d,
		th.Pending.Render(th.SymPending), p,
		th.Accent.Render("Total"), len(items),
	)

	lines := []string{header, th.Muted.Render(ui.ProgressBar(d, d+p, 28)), ""}
	if group {
		lines = append(lines, groupLines(th, items)...)
	} else {
		lines = append(lines, flatLines(th, items)...)
	}
	lines = append(lines, "", th.Muted.Render("Tip: add with `todo add \"Buy milk\"`"))
	return lines
}

func flatLines(th ui.Theme, items []model.Item) []string {
	if len(items) == 0 {
		return []string{th.Muted.Render("no items")}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		box, style := th.BoxUnchecked, th.Muted
		if it.IsCompleted {
			box, style = th.BoxChecked, th.Success
		}
		out = append(out, fmt.Sprintf("%s %s %s",
			th.Muted.Render(fmt.Sprintf("%4s", "#"+strconv.FormatInt(it.ID, 10))),
			style.Render(box), truncate(it.Name, 80)))
	}
	return out
}

func groupLines(th ui.Theme, items []model.Item) []string {
	var pend, done []model.Item
	for _, it := range items {
		if it.IsCompleted {
			done = append(done, it)
		} else {
			pend = append(pend, it)
		}
	}
	section := func(title string, items []model.Item) []string {
		lines := []string{th.Accent.Render(title)}
		if len(items) == 0 {
			return append(lines, th.Muted.Render("(none)"))
		}
		return append(lines, flatLines(th, items)...)
	}
	lines := section("Pending", pend)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}

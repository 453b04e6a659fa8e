package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/model"
	"github.com/idilsaglam/groceries/internal/ui"
)

// withList opens the active list, runs fn and closes the session.
func (app *App) withList(cmd *cobra.Command, fn func(ctx context.Context, r *runner) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*app.cfg.Timeout())
	defer cancel()

	r, err := app.open(ctx)
	if err != nil {
		return err
	}
	defer r.close()
	return fn(ctx, r)
}

func newListCmd(app *App) *cobra.Command {
	var plain, asJSON bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "Show the list (interactive unless --plain or --json)",
		Args:    noArgs("groceries ls [--plain|--json]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !plain && !asJSON {
				return runTUI(app)
			}
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				items := r.s.Items()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				printList(cmd.OutOrStdout(), r.s.ListID(), items)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print a grouped panel instead of opening the TUI")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print items as JSON")
	return cmd
}

func newAddCmd(app *App) *cobra.Command {
	var (
		qty      int
		category string
	)
	cmd := &cobra.Command{
		Use:   "add <name...>",
		Short: "Add an item (name can be multiple words)",
		Args:  minArgs(1, "groceries add <name...> [-q N] [-c category]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := listsync.AddInput{
				Name:     strings.Join(args, " "),
				Quantity: qty,
				Category: category,
			}
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				if err := r.do(ctx, func() error { return r.s.AddItem(in) }); err != nil {
					return err
				}
				ui.OK(cmd.OutOrStdout(), "added "+strings.TrimSpace(in.Name)+ui.Quantity(listsync.ClampQuantity(qty)))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&qty, "quantity", "q", listsync.MinQuantity, fmt.Sprintf("Quantity (%d-%d)", listsync.MinQuantity, listsync.MaxQuantity))
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category used for grouping")
	return cmd
}

func newDoneCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "done <index>",
		Aliases: []string{"check", "toggle"},
		Short:   "Toggle checked for the item at a 1-based index",
		Args:    exactArgs(1, "groceries done <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				d, err := r.item(n)
				if err != nil {
					return err
				}
				if err := r.do(ctx, func() error { return r.s.ToggleItem(d) }); err != nil {
					return err
				}
				verb := "checked"
				if d.Checked {
					verb = "unchecked"
				}
				ui.OK(cmd.OutOrStdout(), verb+" "+d.Name)
				return nil
			})
		},
	}
}

func newRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <index>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove the item at a 1-based index",
		Args:    exactArgs(1, "groceries rm <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				d, err := r.item(n)
				if err != nil {
					return err
				}
				if err := r.do(ctx, func() error { return r.s.DeleteItem(d) }); err != nil {
					return err
				}
				ui.OK(cmd.OutOrStdout(), "removed "+d.Name)
				return nil
			})
		},
	}
}

func newClearCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from the list",
		Args:  noArgs("groceries clear [-y]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				n := len(r.s.Items())
				if n == 0 {
					ui.OK(cmd.OutOrStdout(), "the list is already empty")
					return nil
				}
				if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Remove all %d items from %s? (y/N) ", n, r.s.ListID())) {
					fmt.Fprintln(cmd.OutOrStdout(), ui.C(ui.Current().Muted, "cancelled"))
					return nil
				}
				if err := r.do(ctx, r.s.ClearAll); err != nil {
					return err
				}
				ui.OK(cmd.OutOrStdout(), fmt.Sprintf("cleared %d items", n))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the list again and report its size",
		Args:  noArgs("groceries refresh"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withList(cmd, func(ctx context.Context, r *runner) error {
				if err := r.s.Refetch(); err != nil {
					return err
				}
				if err := r.settle(ctx); err != nil {
					return err
				}
				if err := r.s.Err(); err != nil {
					return err
				}
				c, left := ui.Stats(r.s.Items())
				ui.OK(cmd.OutOrStdout(), fmt.Sprintf("synced %d items (%d checked, %d left)", c+left, c, left))
				return nil
			})
		},
	}
}

// -------------- rendering helpers --------------

func printList(w io.Writer, title string, items []model.DisplayItem) {
	c, left := ui.Stats(items)
	lines := []string{
		ui.Header(title, items),
		ui.C(ui.Current().Muted, ui.ProgressBar(c, c+left, 28)),
		"",
	}
	lines = append(lines, ui.ItemLines(items)...)
	lines = append(lines, "")
	lines = append(lines, ui.C(ui.Current().Muted, "Tip: add with `groceries add Milk -q 2`"))
	ui.Panel(w, lines)
}

type jsonItem struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Checked  bool   `json:"checked"`
	Category string `json:"category,omitempty"`
	Group    string `json:"group"`
}

func writeJSON(w io.Writer, items []model.DisplayItem) error {
	out := make([]jsonItem, 0, len(items))
	for i, it := range items {
		out = append(out, jsonItem{
			Index:    i + 1,
			ID:       it.ID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Checked:  it.Checked,
			Category: it.Category,
			Group:    it.Group,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, usageError{msg: "not a number: " + s}
	}
	return n, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

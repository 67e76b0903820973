package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/starford/keep/internal"
	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/models"
)

var stdout io.Writer = os.Stdout

// withService opens the store and index for one command. Downloads run
// inline and logs go to stderr.
func withService(ctx context.Context, cmd *cli.Command, fn func(*itemservice.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.Open(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	runErr := fn(app.Service())
	return errors.Join(runErr, app.Close(ctx))
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: keep %s %s", cmd.Name, usage)
	}
	return nil
}

// flagPtr returns a pointer to the flag value when the flag was given, so an
// explicit empty value clears the field.
func flagPtr(cmd *cli.Command, name string) *string {
	if !cmd.IsSet(name) {
		return nil
	}
	v := cmd.String(name)
	return &v
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Save a new item",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "http(s) URL or local path"},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "Free text body"},
			&cli.StringFlag{Name: "comment", Usage: "Personal note"},
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Tag label (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<name>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				item, err := svc.Add(ctx, models.AddItem{
					Name:    strings.Join(cmd.Args().Slice(), " "),
					URL:     flagPtr(cmd, "url"),
					Body:    flagPtr(cmd, "body"),
					Comment: flagPtr(cmd, "comment"),
					Tags:    cmd.StringSlice("tag"),
				})
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
}

func getCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one item",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<id>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				item, err := svc.Get(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List items newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Max items (0 for all)"},
			&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Required tag (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				items, err := svc.List(ctx, models.ListItems{
					Count: int(cmd.Int("count")),
					Tags:  cmd.StringSlice("tag"),
				})
				if err != nil {
					return err
				}
				printItems(items)
				return nil
			})
		},
	}
}

func printItems(items []models.Item) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTAGS\tURL")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			it.ID,
			truncate(it.Name, 48),
			strings.Join(it.TagLabels(), ","),
			models.Deref(it.URL))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func editCmd() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change an item and re-index it",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "New name"},
			&cli.StringFlag{Name: "url", Usage: "New source; empty clears it"},
			&cli.StringFlag{Name: "body", Usage: "New body; empty clears it"},
			&cli.StringFlag{Name: "summary", Usage: "New summary; empty clears it"},
			&cli.StringFlag{Name: "comment", Usage: "New comment; empty clears it"},
			&cli.StringSliceFlag{Name: "add-tag", Usage: "Tag to add (repeatable)"},
			&cli.StringSliceFlag{Name: "remove-tag", Usage: "Tag to remove (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<id>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				item, err := svc.Edit(ctx, models.EditItem{
					ID:         cmd.Args().First(),
					Name:       flagPtr(cmd, "name"),
					URL:        flagPtr(cmd, "url"),
					Body:       flagPtr(cmd, "body"),
					Summary:    flagPtr(cmd, "summary"),
					Comment:    flagPtr(cmd, "comment"),
					AddTags:    cmd.StringSlice("add-tag"),
					RemoveTags: cmd.StringSlice("remove-tag"),
				})
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
}

func deleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete items with their archived copies",
		ArgsUsage: "<id>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<id>..."); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				for _, id := range cmd.Args().Slice() {
					if err := svc.Delete(ctx, id); err != nil {
						return err
					}
					fmt.Fprintln(stdout, "deleted", id)
				}
				return nil
			})
		},
	}
}

func searchCmd() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Ranked search over saved items",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: itemservice.DefaultSearchLimit, Usage: "Max results"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<query>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				results, err := svc.Search(ctx, strings.Join(cmd.Args().Slice(), " "), int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSCORE\tMATCH")
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%.3f\t%s\n", r.ID, r.Score, bestFragment(r.Snippets))
				}
				return w.Flush()
			})
		},
	}
}

// bestFragment prefers the snippet with highlights, name first.
func bestFragment(s models.Snippets) string {
	for _, sn := range []models.Snippet{s.Name, s.Body, s.Comment} {
		if len(sn.Highlighted) > 0 {
			return strings.Join(strings.Fields(sn.Fragment), " ")
		}
	}
	return strings.Join(strings.Fields(s.Name.Fragment), " ")
}

func linkCmd() *cli.Command {
	return &cli.Command{
		Name:      "link",
		Usage:     "Link two items",
		ArgsUsage: "<id> <id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2, "<id> <id>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				return svc.Link(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			})
		},
	}
}

func unlinkCmd() *cli.Command {
	return &cli.Command{
		Name:      "unlink",
		Usage:     "Remove the link between two items",
		ArgsUsage: "<id> <id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2, "<id> <id>"); err != nil {
				return err
			}
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				return svc.Unlink(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			})
		},
	}
}

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Re-hash stored files and compare with recorded hashes",
		ArgsUsage: "[id]...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				ids := cmd.Args().Slice()
				if len(ids) == 0 {
					items, err := svc.List(ctx, models.ListItems{})
					if err != nil {
						return err
					}
					for _, it := range items {
						if it.Blob != nil {
							ids = append(ids, it.ID)
						}
					}
				}

				w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATE\tPATH")
				bad := 0
				for _, id := range ids {
					v, err := svc.Verify(ctx, id)
					if err != nil {
						return err
					}
					state := "ok"
					switch {
					case v.Missing:
						state = "missing"
					case !v.OK:
						state = "changed"
					}
					if !v.OK {
						bad++
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", v.ItemID, state, v.Path)
				}
				w.Flush()
				if bad > 0 {
					return fmt.Errorf("%d of %d blobs failed verification", bad, len(ids))
				}
				return nil
			})
		},
	}
}

func reindexCmd() *cli.Command {
	return &cli.Command{
		Name:      "reindex",
		Usage:     "Re-index items, or repair the whole index when no id is given",
		ArgsUsage: "[id]...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withService(ctx, cmd, func(svc *itemservice.Service) error {
				ids := cmd.Args().Slice()
				if len(ids) == 0 {
					report, err := svc.Reconcile(ctx)
					if err != nil {
						return err
					}
					return printJSON(report)
				}
				for _, id := range ids {
					if err := svc.Reindex(ctx, id); err != nil {
						return err
					}
					fmt.Fprintln(stdout, "reindexed", id)
				}
				return nil
			})
		},
	}
}

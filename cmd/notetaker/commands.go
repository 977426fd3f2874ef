package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/starford/notetaker/internal"
	"github.com/starford/notetaker/internal/models"
)

var (
	titleColor = color.New(color.FgHiCyan, color.Bold)
	idColor    = color.New(color.FgHiBlack)
	linkColor  = color.New(color.FgHiMagenta)
	missColor  = color.New(color.FgRed)
	okColor    = color.New(color.FgGreen)
)

// withApp opens the notes directory for one command and flushes every
// pending save before returning.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.App, io.Writer) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Watcher.Enabled = false
	if cfg.App.LogLevel < slog.LevelWarn {
		cfg.App.LogLevel = slog.LevelWarn
	}

	a, err := internal.Open(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a, os.Stdout)
	if err := a.Close(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: notetaker %s %s", cmd.Name, usage)
	}
	return nil
}

func printItem(w io.Writer, id, title string) {
	fmt.Fprintf(w, "%s  %s\n", titleColor.Sprint(title), idColor.Sprint(id))
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List notes, newest first, or those whose title contains --query",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Title filter"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(_ context.Context, a *internal.App, w io.Writer) error {
				for _, it := range a.Service.View(cmd.String("query")) {
					printItem(w, it.ID, it.Title)
				}
				return nil
			})
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "Create a note; without a title it is named after the current time",
		ArgsUsage: "[title]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Usage: "Initial content"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				var (
					n   models.Note
					err error
				)
				title := strings.TrimSpace(cmd.Args().First())
				content := cmd.String("content")
				if title == "" {
					n, err = a.Service.Create(ctx)
					if err == nil && content != "" {
						n, err = a.Service.UpdateContent(ctx, n.ID, content)
					}
				} else {
					n, err = a.Service.CreateWithTitle(ctx, title, content)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s ", okColor.Sprint("created"))
				printItem(w, n.ID, n.Title)
				return nil
			})
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a note with its links and backlinks",
		ArgsUsage: "<note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<note>"); err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				d, err := a.Service.Lookup(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				printItem(w, d.ID, d.Title)
				fmt.Fprintln(w)
				fmt.Fprintln(w, d.Content)
				if len(d.Backlinks) > 0 {
					fmt.Fprintln(w)
					for _, l := range d.Backlinks {
						fmt.Fprintf(w, "%s %s\n", idColor.Sprint("<-"), linkColor.Sprint(l.SourceID))
					}
				}
				return nil
			})
		},
	}
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Replace a note's content with the given text, or stdin when none is given",
		ArgsUsage: "<note> [content]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<note> [content]"); err != nil {
				return err
			}
			content := cmd.Args().Get(1)
			if cmd.Args().Len() < 2 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				d, err := a.Service.Lookup(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				if _, err := a.Service.UpdateContent(ctx, d.ID, content); err != nil {
					return err
				}
				fmt.Fprintf(w, "%s ", okColor.Sprint("updated"))
				printItem(w, d.ID, d.Title)
				return nil
			})
		},
	}
}

func renameCommand() *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Change a note's title and file name",
		ArgsUsage: "<note> <title>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2, "<note> <title>"); err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				d, err := a.Service.Lookup(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				n, err := a.Service.Rename(ctx, d.ID, cmd.Args().Get(1))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s %s -> ", okColor.Sprint("renamed"), d.Title)
				printItem(w, n.ID, n.Title)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a note and its file",
		ArgsUsage: "<note>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<note>"); err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				d, err := a.Service.Lookup(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				if err := a.Service.Delete(ctx, d.ID); err != nil {
					return err
				}
				fmt.Fprintf(w, "%s ", okColor.Sprint("deleted"))
				printItem(w, d.ID, d.Title)
				return nil
			})
		},
	}
}

func linksCommand() *cli.Command {
	return &cli.Command{
		Name:      "links",
		Usage:     "Show outgoing links of a note, or every dangling link with --dangling",
		ArgsUsage: "[note]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dangling", Usage: "List links whose target does not exist"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				if cmd.Bool("dangling") {
					for _, l := range a.Service.Dangling() {
						fmt.Fprintf(w, "%s -> %s\n", l.SourceID, missColor.Sprintf("[[%s]]", l.TargetTitleRaw))
					}
					return nil
				}
				if cmd.Args().Len() < 1 {
					return fmt.Errorf("usage: notetaker links <note> | --dangling")
				}
				d, err := a.Service.Lookup(ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				for _, l := range d.Links {
					if !l.Resolved() {
						fmt.Fprintf(w, "%s\n", missColor.Sprintf("[[%s]] (missing)", l.TargetTitleRaw))
						continue
					}
					fmt.Fprintf(w, "%s %s\n", linkColor.Sprintf("[[%s]]", l.TargetTitleRaw), idColor.Sprint(l.TargetID))
				}
				return nil
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search note titles and content",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of results", Value: 20},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<query>"); err != nil {
				return err
			}
			return withApp(ctx, cmd, func(ctx context.Context, a *internal.App, w io.Writer) error {
				results, err := a.Service.Search(ctx, strings.Join(cmd.Args().Slice(), " "), int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				for _, r := range results {
					printItem(w, r.ID, r.Title)
					if r.Snippet != "" {
						fmt.Fprintf(w, "    %s\n", r.Snippet)
					}
				}
				return nil
			})
		},
	}
}

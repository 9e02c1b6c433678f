// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Session management commands.
//
// Examples:
//   rigchat sessions                      List sessions
//   rigchat sessions new "Refactoring"    Create and switch to a session
//   rigchat sessions switch 2             Switch by list position
//   rigchat sessions show                 Show the current session
//   rigchat sessions export --format json Export the current session

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

const previewLen = 40

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage chat sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app *App) error {
				printSessionTable(cmd.OutOrStdout(), app.Store.ListSessions(), app.Store.CurrentSessionID())
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, func(app *App) error {
					printSessionTable(cmd.OutOrStdout(), app.Store.ListSessions(), app.Store.CurrentSessionID())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "new [name]",
			Short: "Create a session and make it current",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(app *App) error {
					sess := app.Store.CreateSession(strings.Join(args, " "))
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sess.ID, sess.Name)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "switch <ref>",
			Short: "Make a session current",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, args, func(app *App, id string) error {
					app.Store.SetCurrentSessionID(id)
					fmt.Fprintf(cmd.OutOrStdout(), "Current session: %s\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rename <ref> <name>",
			Short: "Rename a session",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, args[:1], func(app *App, id string) error {
					app.Store.RenameSession(id, strings.Join(args[1:], " "))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear [ref]",
			Short: "Remove every message from a session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, args, func(app *App, id string) error {
					app.Store.ClearSession(id)
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <ref>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, args, func(app *App, id string) error {
					if !app.Store.DeleteSession(id) {
						return errors.New("the default session cannot be deleted")
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
					return nil
				})
			},
		},
		newSessionsShowCmd(),
		newSessionsExportCmd(),
	)
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [ref]",
		Short: "Print a session's messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(app *App, id string) error {
				sess, _ := app.Store.GetSession(id)
				out := cmd.OutOrStdout()
				printHistory(out, sess, stdoutIsTTY(cmd), GetTerminalWidth(out))
				return nil
			})
		},
	}
	return cmd
}

func newSessionsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [ref]",
		Short: "Export a session to Markdown or JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			outDir, _ := cmd.Flags().GetString("out")
			return withSession(cmd, args, func(app *App, id string) error {
				opts := export.DefaultOptions()
				opts.OutputDir = outDir
				exporter, err := export.ForFormat(format, opts)
				if err != nil {
					return err
				}
				sess, _ := app.Store.GetSession(id)
				path, err := export.ToFile(sess, exporter, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringP("format", "f", "markdown", "export format: markdown or json")
	cmd.Flags().StringP("out", "o", ".", "output directory")
	return cmd
}

// withApp opens the app for fn and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(app *App) error) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// withSession resolves the optional first argument to a session id.
func withSession(cmd *cobra.Command, args []string, fn func(app *App, id string) error) error {
	return withApp(cmd, func(app *App) error {
		ref := ""
		if len(args) > 0 {
			ref = args[0]
		}
		id, err := resolveSession(app.Store, ref)
		if err != nil {
			return err
		}
		return fn(app, id)
	})
}

// =============================================================================
// RENDERING
// =============================================================================

// printSessionTable lists sessions with the current one marked.
func printSessionTable(w io.Writer, sessions []model.Session, currentID string) {
	fmt.Fprintf(w, "  %-3s %-10s %-20s %5s %12s  %s\n", "#", "ID", "Name", "Msgs", "Cost", "Preview")
	fmt.Fprintln(w, RenderSeparator(70))
	for i, s := range sessions {
		marker := " "
		if s.ID == currentID {
			marker = "*"
		}
		cost := "-"
		if total, n := s.TotalCost(); n > 0 {
			cost = model.FormatDollars(total)
		}
		fmt.Fprintf(w, "%s %-3d %s %s %5d %12s  %s\n",
			marker, i+1,
			PadRight(shortID(s.ID), 10),
			PadRight(s.Name, 20),
			s.MessageCount(), cost,
			DimStyle.Render(s.Preview(previewLen)),
		)
	}
	fmt.Fprintf(w, "\nTotal: %d session(s)\n", len(sessions))
}

// printHistory prints every message of sess. Assistant messages are
// rendered as Markdown when render is set.
func printHistory(w io.Writer, sess model.Session, render bool, width int) {
	fmt.Fprintln(w, TitleStyle.Render(sess.Name)+" "+DimStyle.Render(sess.ID))
	fmt.Fprintln(w, RenderSeparator(60))
	if sess.IsEmpty() {
		fmt.Fprintln(w, DimStyle.Render("(no messages)"))
		return
	}
	for _, m := range sess.Messages {
		label := m.Role.DisplayName() + ":"
		if m.Role == model.RoleAssistant {
			label = AssistantStyle.Render(label)
		} else {
			label = PromptStyle.Render(label)
		}
		fmt.Fprintf(w, "%s %s\n", label, DimStyle.Render(m.Timestamp.Format("15:04:05")))

		content := m.Content
		if render && m.Role == model.RoleAssistant {
			content = strings.TrimRight(renderMarkdown(content, width), "\n")
		} else {
			content = WrapText(content, width)
		}
		fmt.Fprintln(w, content)
		if c := m.FormatCost(); c != "" {
			fmt.Fprintln(w, CostStyle.Render("cost: "+c))
		}
		fmt.Fprintln(w)
	}
}

// shortID abbreviates generated ids for tables.
func shortID(id string) string {
	if id == session.DefaultSessionID || len(id) <= 8 {
		return id
	}
	return id[:8]
}

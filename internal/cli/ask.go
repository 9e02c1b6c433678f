// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//   rigchat ask "What is a goroutine?"
//   rigchat ask "Summarize @README.md"
//   git diff | rigchat ask --no-stream
//   rigchat ask --session 2 --model deepseek/deepseek-r1 "Continue"

package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: "Send one prompt to the selected model and print the response. " +
			"@path references are attached as context. With no arguments the prompt is read from stdin.",
		RunE: runAsk,
	}

	cmd.Flags().StringP("session", "s", "", "session id, position or id prefix (default: current session)")
	cmd.Flags().StringP("model", "m", "", "model override for this request")
	cmd.Flags().Bool("no-stream", false, "wait for the whole response instead of streaming")
	cmd.Flags().Bool("no-history", false, "send only this prompt, without earlier messages")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		p, err := readPromptStdin(cmd)
		if err != nil {
			return err
		}
		prompt = p
	}
	if prompt == "" {
		return errors.New("no question given")
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	sessionRef, _ := cmd.Flags().GetString("session")
	sessionID := ""
	if sessionRef != "" {
		if sessionID, err = resolveSession(app.Store, sessionRef); err != nil {
			// Unknown ids become new sessions, as the engine does for any id.
			sessionID = sessionRef
		}
	}

	opts := app.Options()
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		opts.Model = m
	}
	if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
		opts.Stream = false
	}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		opts.IncludeHistory = false
	}

	h := &consoleHandler{
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		render: stdoutIsTTY(cmd),
		width:  GetTerminalWidth(cmd.OutOrStdout()),
	}
	app.Send(cmd.Context(), sessionID, prompt, opts, h)

	if msg := h.Failed(); msg != "" {
		return errors.New(msg)
	}
	// Close waits for the cost lookup so its notice is printed before exit.
	return app.Close()
}

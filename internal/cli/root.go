// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCmd creates the root rigchat command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rigchat",
		Short:         "Streaming OpenRouter chat in your terminal",
		Long:          "rigchat keeps multiple chat sessions, streams responses from OpenRouter and reports what each response cost.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, args)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ~/.rigchat/config.toml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("db", "", "path to the session database (default ~/.rigchat/sessions.db)")

	root.AddCommand(
		newChatCmd(),
		newAskCmd(),
		newSessionsCmd(),
		newConfigCmd(),
		newModelsCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "rigchat %s (commit %s, built %s, %s/%s)\n",
				Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands.
//
// Examples:
//   rigchat config show
//   rigchat config set provider.api_key sk-or-v1-...
//   rigchat config set provider.custom_models "me/model-a,me/model-b"
//   rigchat config get cost.max_attempts

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration (API key redacted)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runConfigShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if isSecretKey(args[0]) {
					fmt.Fprintln(cmd.OutOrStdout(), redact(cfg.Provider.APIKey))
					return nil
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change and save one configuration value",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				live := config.NewLive(cfg, path)
				value := strings.Join(args[1:], " ")
				if err := live.Update(func(c *config.Config) error {
					return c.Set(args[0], value)
				}); err != nil {
					return err
				}
				shown := value
				if isSecretKey(args[0]) {
					shown = redact(value)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], shown)
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := configPath(cmd)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every configuration key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				for _, k := range config.GetAllKeys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			},
		},
	)
	return cmd
}

func runConfigShow(cmd *cobra.Command) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("# "+path))
	fmt.Fprint(cmd.OutOrStdout(), cfg.String())
	return nil
}

// configPath returns --config or the default location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func isSecretKey(key string) bool {
	return strings.Contains(strings.ToLower(strings.ReplaceAll(key, "-", "_")), "api_key")
}

// redact shows only whether a secret is set.
// SECURITY: Never prints any fragment of the key.
func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "[REDACTED]"
}

func formatValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(v)
}

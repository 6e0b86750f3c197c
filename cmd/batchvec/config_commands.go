package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"batchvec/internal/api"
	"batchvec/internal/config"
	"batchvec/internal/ipc"
	"batchvec/internal/settings"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Daemon configuration and batch settings",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set paths.api_token and paths.allowed_origins before exposing the API to the browser extension.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the batch settings stored by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ConfigGet()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Setting", "Value"},
					buildSettingsRows(resp.Settings),
					[]columnAlignment{alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the settings as JSON")
	return cmd
}

func buildSettingsRows(s settings.Settings) [][]string {
	folder := s.Folder
	if folder == "" {
		folder = "(downloads root)"
	}
	autoPause := "off"
	if s.AutoPause.Enabled {
		autoPause = fmt.Sprintf("every %d items, %d-%d min", s.AutoPause.Count, s.AutoPause.MinMinutes, s.AutoPause.MaxMinutes)
	}
	return [][]string{
		{"delay", strconv.FormatFloat(s.DelaySeconds, 'f', -1, 64) + "s"},
		{"format", string(s.Format)},
		{"folder", folder},
		{"remove-background", yesNo(s.RemoveBackground)},
		{"auto-pause", autoPause},
		{"language", s.Language},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change a batch setting",
	}

	apply := func(cmd *cobra.Command, patch api.ConfigPatch) error {
		return ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.ConfigSet(patch)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Setting", "Value"},
				buildSettingsRows(resp.Settings),
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		})
	}

	setCmd.AddCommand(&cobra.Command{
		Use:   "delay <seconds>",
		Short: "Seconds to wait between items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
			if err != nil {
				return fmt.Errorf("invalid delay %q: %w", args[0], err)
			}
			return apply(cmd, api.ConfigPatch{DelaySeconds: &seconds})
		},
	})

	setCmd.AddCommand(&cobra.Command{
		Use:   "format <eps|svg>",
		Short: "Vector output format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := strings.TrimSpace(args[0])
			if _, err := settings.ParseFormat(format); err != nil {
				return err
			}
			return apply(cmd, api.ConfigPatch{Format: &format})
		},
	})

	setCmd.AddCommand(&cobra.Command{
		Use:   "folder [name]",
		Short: "Download sub-folder; omit the name to save to the downloads root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) == 1 {
				folder = args[0]
			}
			return apply(cmd, api.ConfigPatch{Folder: &folder})
		},
	})

	setCmd.AddCommand(&cobra.Command{
		Use:   "remove-background <on|off>",
		Short: "Ask the site to remove image backgrounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseToggle(args[0])
			if err != nil {
				return err
			}
			return apply(cmd, api.ConfigPatch{RemoveBackground: &enabled})
		},
	})

	setCmd.AddCommand(newConfigSetAutoPauseCommand(ctx, apply))

	setCmd.AddCommand(&cobra.Command{
		Use:   "language <tag>",
		Short: "Site language, e.g. en, de or pt-BR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang := strings.TrimSpace(args[0])
			return apply(cmd, api.ConfigPatch{Language: &lang})
		},
	})

	return setCmd
}

func newConfigSetAutoPauseCommand(ctx *commandContext, apply func(*cobra.Command, api.ConfigPatch) error) *cobra.Command {
	var count, minMinutes, maxMinutes int
	cmd := &cobra.Command{
		Use:   "auto-pause <on|off>",
		Short: "Pause for a random interval after a run of successful items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseToggle(args[0])
			if err != nil {
				return err
			}
			var current settings.AutoPausePolicy
			err = ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ConfigGet()
				if err != nil {
					return err
				}
				current = resp.Settings.AutoPause
				return nil
			})
			if err != nil {
				return err
			}
			input := api.AutoPauseInput{
				Enabled:    enabled,
				Count:      current.Count,
				MinMinutes: current.MinMinutes,
				MaxMinutes: current.MaxMinutes,
			}
			flags := cmd.Flags()
			if flags.Changed("count") {
				input.Count = count
			}
			if flags.Changed("min") {
				input.MinMinutes = minMinutes
			}
			if flags.Changed("max") {
				input.MaxMinutes = maxMinutes
			}
			return apply(cmd, api.ConfigPatch{AutoPause: &input})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Successful items before pausing")
	cmd.Flags().IntVar(&minMinutes, "min", 0, "Minimum pause length in minutes")
	cmd.Flags().IntVar(&maxMinutes, "max", 0, "Maximum pause length in minutes")
	return cmd
}

func parseToggle(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes", "enable", "enabled":
		return true, nil
	case "off", "no", "disable", "disabled":
		return false, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
	return enabled, nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omarluq/plangate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting the gateway.
Checks syntax, plans, policies, the key store section, and seeded keys.`,
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a starter config file",
	Long:  `Generate a starter plangate configuration at ~/.config/plangate/plangate.yaml.`,
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/plangate/plangate.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")

	configCmd.AddCommand(configValidateCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	configPath := resolveConfigPath()
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "✗ Config validation failed: %s\n", err)
		return err
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "✗ %s\n", err)
		return err
	}

	fmt.Fprintf(out, "✓ %s is valid (%d plans, %d keys)\n", configPath, len(cfg.Plans), len(cfg.Keys))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", appName, defaultConfigFile)
	}

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, config.Example(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Config file created at %s\n", output)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Replace the demo key and define your plans")
	fmt.Fprintln(out, "  2. Validate with: plangate config validate --config "+output)
	fmt.Fprintln(out, "  3. Start the gateway: plangate serve --config "+output)
	return nil
}

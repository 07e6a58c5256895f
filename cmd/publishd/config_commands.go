package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigSampleCommand())
	configCmd.AddCommand(newConfigValidateCommand())
	return configCmd
}

func newConfigSampleCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print or write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), sampleConfig)
				return nil
			}
			if _, err := os.Stat(targetPath); err == nil {
				return fmt.Errorf("config file already exists at %s", targetPath)
			}
			if err := os.WriteFile(targetPath, []byte(sampleConfig), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", targetPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if _, err := cfg.publishConfig(logger); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if _, err := cfg.sourceConfig(logger); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return cmd
}

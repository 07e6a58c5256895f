package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var apiURL string

	rootCmd := &cobra.Command{
		Use:           "publishd",
		Short:         "Публикация живого потока в файл и сеть",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://127.0.0.1:9464", "Control API base URL")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newStatusCommand(&apiURL))
	rootCmd.AddCommand(newRecordCommand(&apiURL))
	rootCmd.AddCommand(newStreamCommand(&apiURL))
	return rootCmd
}

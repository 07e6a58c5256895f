package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Показать ветки работающего publishd",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newAPIClient(*apiURL).branches(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recording: %t, streaming: %t\n", resp.Recording, resp.Streaming)
			if len(resp.Branches) == 0 {
				fmt.Fprintln(out, "no branches")
				return nil
			}

			rows := make([][]string, 0, len(resp.Branches))
			for _, b := range resp.Branches {
				rows = append(rows, []string{b.ID, b.Name, b.Role, b.State})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Role", "State"}, rows, shouldColorize(out)))
			return nil
		},
	}
}

func newRecordCommand(apiURL *string) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Управление записью работающего publishd",
	}

	recordCmd.AddCommand(&cobra.Command{
		Use:   "start <location>",
		Short: "Начать запись в файл",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*apiURL).startRecord(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording to %s\n", args[0])
			return nil
		},
	})
	recordCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Остановить запись",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*apiURL).stopRecord(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recording stopped")
			return nil
		},
	})
	return recordCmd
}

func newStreamCommand(apiURL *string) *cobra.Command {
	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Управление отправкой работающего publishd",
	}

	streamCmd.AddCommand(&cobra.Command{
		Use:   "start <host:audio_port:video_port>",
		Short: "Начать отправку RTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseStreamTarget(args[0])
			if err != nil {
				return err
			}
			client := newAPIClient(*apiURL)
			if err := client.startStream(cmd.Context(), target); err != nil {
				return err
			}
			sdp, err := client.sessionDescription(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sdp)
			return nil
		},
	})
	streamCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Остановить отправку",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(*apiURL).stopStream(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Streaming stopped")
			return nil
		},
	})
	streamCmd.AddCommand(&cobra.Command{
		Use:   "sdp",
		Short: "Вывести SDP текущей отправки",
		RunE: func(cmd *cobra.Command, args []string) error {
			sdp, err := newAPIClient(*apiURL).sessionDescription(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sdp)
			return nil
		},
	})
	return streamCmd
}

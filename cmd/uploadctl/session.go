package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status SESSION_ID",
		Short: "Show an upload session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, coord, err := root.coordinator()
			if err != nil {
				return err
			}
			s, err := coord.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
}

func newAbortCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abort SESSION_ID",
		Short: "Cancel an upload session and discard its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, coord, err := root.coordinator()
			if err != nil {
				return err
			}
			s, err := coord.Abort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), s)
		},
	}
}

func printSession(w io.Writer, s *uploadtypes.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

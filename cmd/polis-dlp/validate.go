package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-dlp/pkg/policy"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <policy>",
		Short: "Validate a policy document and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := policy.NewStore(policy.WithLogger(slog.New(slog.DiscardHandler)))
			snap, err := store.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("policy %s is invalid: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap.Summary())
		},
	}
}

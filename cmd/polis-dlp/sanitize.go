package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSanitizeCmd(flags *globalFlags) *cobra.Command {
	var (
		file       string
		sourceType string
	)

	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Sanitize one text read from --file or stdin and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			input := cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				input = f
			}
			text, err := io.ReadAll(input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			// Logs and stdout audit records go to stderr so stdout stays JSON.
			logger := newLogger(cfg, cmd.ErrOrStderr())
			rt, err := buildApp(cmd.Context(), cfg, logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = rt.orchestrator.Close() }()

			metadata := map[string]any{}
			if sourceType != "" {
				metadata["source_type"] = sourceType
			}
			if file != "" {
				metadata["file"] = file
			}

			result := rt.orchestrator.Run(cmd.Context(), string(text), metadata)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the text from this file instead of stdin")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "Source type recorded in the result metadata")
	return cmd
}

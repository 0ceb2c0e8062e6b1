package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/transfer"
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Export and import import configurations as YAML or JSON",
}

var (
	exportOut    string
	exportFormat string
	exportRedact bool

	importFormat     string
	importResetState bool
	importDryRun     bool
)

var configsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every configuration to a file or stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format := transfer.FormatFromPath(exportOut)
		if exportFormat != "" {
			f, err := transfer.ParseFormat(exportFormat)
			if err != nil {
				return err
			}
			format = f
		}

		a, err := newApp(cmd.Context(), appConfig, appLogger, appOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.close(context.WithoutCancel(cmd.Context())) }()

		configs, err := a.configs.List(cmd.Context())
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			file, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer file.Close()
			w = file
		}

		if err := transfer.Encode(w, format, configs, transfer.ExportOptions{RedactSecrets: exportRedact}); err != nil {
			return err
		}
		appLogger.Infof("Exported %d import configurations", len(configs))
		return nil
	},
}

var configsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update configurations from an exported document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		format := transfer.FormatFromPath(path)
		if importFormat != "" {
			f, err := transfer.ParseFormat(importFormat)
			if err != nil {
				return err
			}
			format = f
		}

		var r io.Reader = cmd.InOrStdin()
		if path != "-" {
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()
			r = file
		}

		doc, err := transfer.Decode(r, format)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), appConfig, appLogger, appOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.close(context.WithoutCancel(cmd.Context())) }()

		summary, err := transfer.NewImporter(a.configs, a.scheduler, appLogger).Import(cmd.Context(), doc, transfer.ImportOptions{
			ResetState: importResetState,
			DryRun:     importDryRun,
		})
		if err != nil {
			return err
		}

		prefix := ""
		if importDryRun {
			prefix = "[dry run] "
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%sCreated: %d, Updated: %d\n", prefix, summary.Created, summary.Updated)
		return nil
	},
}

func init() {
	configsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file, stdout when empty")
	configsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "yaml or json, taken from --out when empty")
	configsExportCmd.Flags().BoolVar(&exportRedact, "redact", false, "Blank auth values in the output")

	configsImportCmd.Flags().StringVarP(&importFormat, "format", "f", "", "yaml or json, taken from the file extension when empty")
	configsImportCmd.Flags().BoolVar(&importResetState, "reset-state", false, "Recompute schedules instead of keeping exported state")
	configsImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate and report without writing")

	configsCmd.AddCommand(configsExportCmd)
	configsCmd.AddCommand(configsImportCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/handlers"
)

var payloadCmd = &cobra.Command{
	Use:   "payload",
	Short: "Inspect bulk payloads",
}

var payloadValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a bulk NdJSON payload and count its items",
	Long:  "Reads the payload from file, or stdin when file is omitted or '-', and prints the verdict as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			r = file
		}

		body, err := io.ReadAll(r)
		if err != nil {
			return err
		}

		verdict := handlers.ValidatePayload(string(body))
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(verdict); err != nil {
			return err
		}
		if !verdict.Valid {
			return fmt.Errorf("payload is invalid at line %d", verdict.Line)
		}
		return nil
	},
}

func init() {
	payloadCmd.AddCommand(payloadValidateCmd)
}

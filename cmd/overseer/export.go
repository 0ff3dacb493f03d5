package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a point-in-time snapshot of tasks, blockers, and learnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := current.export.Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		asYAML, _ := cmd.Flags().GetBool("yaml")
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if asYAML {
			out, err := yaml.Marshal(snap)
			if err != nil {
				return fmt.Errorf("render yaml: %w", err)
			}
			_, err = os.Stdout.Write(out)
			return err
		}
		return enc.Encode(snap)
	},
}

func init() {
	exportCmd.Flags().Bool("yaml", false, "render as YAML instead of JSON")
	rootCmd.AddCommand(exportCmd)
}

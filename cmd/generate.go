package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/carefinder-cli/internal/model"
)

var generateCount int

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate records with the completion API",
}

var generateClinicsCmd = &cobra.Command{
	Use:   "clinics",
	Short: "Generate clinics for every state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateCount > 0 {
			cfg.Pipeline.GenerateCount = generateCount
		}
		return populate(cmd, "generate", model.RunKindGeneration)
	},
}

func init() {
	generateClinicsCmd.Flags().IntVar(&generateCount, "count", 0, "clinics per state (default from config)")
	generateCmd.AddCommand(generateClinicsCmd)
	rootCmd.AddCommand(generateCmd)
}

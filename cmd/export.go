package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/carefinder-cli/internal/export"
)

var (
	exportKind string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := contextOrBackground(cmd.Context())

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := export.Write(ctx, st, exportKind, exportOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", n, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportKind, "kind", export.KindAll, "records to export: legal, clinics, or all")
	exportCmd.Flags().StringVar(&exportOut, "out", "carefinder.xlsx", "output file")
	rootCmd.AddCommand(exportCmd)
}

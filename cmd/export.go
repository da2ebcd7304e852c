package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ebusdepot/pkg/export"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run the scenario and export the trace",
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch exportFormat {
		case export.FormatCSV, export.FormatJSON, export.FormatHTML:
		default:
			return fmt.Errorf("unknown export format %q", exportFormat)
		}
		report, err := execute(cmd.Context())
		if err != nil {
			return err
		}
		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return export.Write(w, exportFormat, report.Trace)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", export.FormatCSV, "output format: csv, json or html")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "-", "output file, - for stdout")
	rootCmd.AddCommand(exportCmd)
}

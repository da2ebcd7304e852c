package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ebusdepot/app"
	"github.com/kilianp07/ebusdepot/core/simulation"
	"github.com/kilianp07/ebusdepot/infra/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured scenario and print the summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		report, err := execute(cmd.Context())
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// execute runs one simulation until completion or SIGINT/SIGTERM.
func execute(parent context.Context) (*simulation.Report, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

func printSummary(w io.Writer, r *simulation.Report) {
	s := r.Summary()
	fmt.Fprintf(w, "run %s ended at %.0f s\n", s.RunID, float64(s.End))
	fmt.Fprintf(w, "  served trips:   %d\n", s.Served)
	fmt.Fprintf(w, "  unmet trips:    %d\n", s.Unmet)
	fmt.Fprintf(w, "  idle vehicles:  %d\n", s.Idle)
	fmt.Fprintf(w, "  unresolved:     %d\n", s.Unresolved)
	fmt.Fprintf(w, "  energy:         %.1f kWh\n", s.EnergyKWh)
	fmt.Fprintf(w, "  peak grid load: %.1f kW\n", s.PeakKW)
	fmt.Fprintf(w, "  cost:           %.2f\n", s.Cost)
	for _, u := range r.Unmet {
		fmt.Fprintf(w, "  unmet %s at %.0f s: %s\n", u.Trip, float64(u.At), u.Reason)
	}
}

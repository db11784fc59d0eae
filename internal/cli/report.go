package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/report"
	"github.com/spf13/cobra"
)

type ReportCmd struct {
	filterFlags

	minRouteTrips    int
	problemThreshold float64
	problemLimit     int
	output           string
}

func NewReportCmd() *ReportCmd {
	return &ReportCmd{}
}

func (c *ReportCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print delivery KPIs, daily trends, route performance and problem trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()
			return c.run(e, cmd.OutOrStdout())
		},
	}
	c.filterFlags.register(cmd.Flags())
	cmd.Flags().IntVar(&c.minRouteTrips, "min-route-trips", report.DefaultMinRouteTrips, "routes with fewer trips are left out of route performance")
	cmd.Flags().Float64Var(&c.problemThreshold, "problem-threshold", report.DefaultProblemThreshold, "time deviation in minutes above which a trip is a problem")
	cmd.Flags().IntVar(&c.problemLimit, "problem-limit", report.DefaultProblemLimit, "problem trips listed")
	cmd.Flags().StringVar(&c.output, "output", "text", "output format: text or json")
	return cmd
}

func (c *ReportCmd) run(e *env, stdout io.Writer) error {
	if c.output != "text" && c.output != "json" {
		return fmt.Errorf("invalid output type: %s (must be text or json)", c.output)
	}
	filter, err := c.filter()
	if err != nil {
		return err
	}

	store, err := openStore(e.ctx, e.log, e.storeURI)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := report.Build(e.ctx, store, report.Options{
		Filter:           filter,
		MinRouteTrips:    c.minRouteTrips,
		ProblemThreshold: c.problemThreshold,
		ProblemLimit:     c.problemLimit,
	})
	if err != nil {
		return err
	}

	if c.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(stdout, rep)
	return nil
}

func printReport(w io.Writer, rep *report.Report) {
	k := rep.KPIs
	kpis := newTable(w, []string{"Trips", "On Time %", "Cutoff Trips", "Avg Deviation (min)", "Avg Efficiency"})
	kpis.Append([]string{itoa(k.TotalTrips), ftoa(k.OnTimePct), itoa(k.CutoffTrips), ftoa(k.AvgTimeDeviation), ftoa(k.AvgEfficiencyRatio)})
	kpis.Render()

	if len(rep.Daily) > 0 {
		fmt.Fprintln(w, "Daily trends")
		daily := newTable(w, []string{"Date", "Trips", "Avg Deviation", "Cutoffs", "Avg Distance"})
		for _, d := range rep.Daily {
			daily.Append([]string{d.Date.Format(time.DateOnly), itoa(d.Trips), ftoa(d.AvgDeviation), itoa(d.Cutoffs), ftoa(d.AvgDistance)})
		}
		daily.Render()
	}

	if len(rep.Routes) > 0 {
		fmt.Fprintln(w, "Route performance")
		routes := newTable(w, []string{"Route", "Trips", "Avg Deviation", "Avg Actual", "Avg Predicted", "Cutoffs"})
		for _, r := range rep.Routes {
			routes.Append([]string{r.Route(), itoa(r.Trips), ftoa(r.AvgDeviation), ftoa(r.AvgActualTime), ftoa(r.AvgPredictedTime), itoa(r.Cutoffs)})
		}
		routes.Render()
	}

	if len(rep.ProblemTrips) > 0 {
		fmt.Fprintln(w, "Problem trips")
		problems := newTable(w, []string{"Trip", "Date", "Route", "Vehicle", "Actual", "Predicted", "Deviation"})
		for _, v := range rep.ProblemTrips {
			problems.Append([]string{v.TripUUID, v.TripDate.Format(time.DateOnly), v.Route, v.VehicleType, ftoa(v.ActualTime), ftoa(v.OSRMTime), ftoa(v.TimeDeviation)})
		}
		problems.Render()
	}
}

// Package report aggregates loaded trips into delivery KPIs, daily trends,
// route performance and problem trips.
package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

const (
	DefaultMinRouteTrips    = 10
	DefaultProblemThreshold = 60.0
	DefaultProblemLimit     = 10
)

type Options struct {
	Filter   warehouse.TripFilter
	PageSize int

	// MinRouteTrips excludes routes with fewer trips from route performance.
	MinRouteTrips int

	// ProblemThreshold is the time deviation in minutes above which a trip
	// is listed as a problem. ProblemLimit caps the list.
	ProblemThreshold float64
	ProblemLimit     int
}

func (o *Options) setDefaults() {
	if o.MinRouteTrips <= 0 {
		o.MinRouteTrips = DefaultMinRouteTrips
	}
	if o.ProblemThreshold <= 0 {
		o.ProblemThreshold = DefaultProblemThreshold
	}
	if o.ProblemLimit <= 0 {
		o.ProblemLimit = DefaultProblemLimit
	}
}

type KPIs struct {
	TotalTrips         int     `json:"total_trips"`
	OnTimePct          float64 `json:"on_time_pct"`
	CutoffTrips        int     `json:"cutoff_trips"`
	AvgTimeDeviation   float64 `json:"avg_time_deviation"`
	AvgEfficiencyRatio float64 `json:"avg_efficiency_ratio"`
}

type DailyStat struct {
	Date         time.Time `json:"date"`
	Trips        int       `json:"trip_count"`
	AvgDeviation float64   `json:"avg_deviation"`
	Cutoffs      int       `json:"cutoff_count"`
	AvgDistance  float64   `json:"avg_distance"`
}

type RouteStat struct {
	Source           string  `json:"source"`
	Destination      string  `json:"destination"`
	Trips            int     `json:"trip_count"`
	AvgDeviation     float64 `json:"avg_deviation"`
	AvgActualTime    float64 `json:"avg_actual_time"`
	AvgPredictedTime float64 `json:"avg_predicted_time"`
	Cutoffs          int     `json:"cutoff_count"`
}

func (s RouteStat) Route() string {
	return s.Source + " → " + s.Destination
}

type Report struct {
	KPIs         KPIs                 `json:"kpis"`
	Daily        []DailyStat          `json:"daily"`
	Routes       []RouteStat          `json:"routes"`
	ProblemTrips []warehouse.TripView `json:"problem_trips"`
}

// Build reads the trips matching the filter and aggregates them.
func Build(ctx context.Context, viewer warehouse.TripViewer, opts Options) (*Report, error) {
	opts.setDefaults()
	views, err := warehouse.CollectTripViews(ctx, viewer, opts.Filter, opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read trip views: %w", err)
	}
	return &Report{
		KPIs:         ComputeKPIs(views),
		Daily:        DailyStats(views),
		Routes:       RoutePerformance(views, opts.MinRouteTrips),
		ProblemTrips: ProblemTrips(views, opts.ProblemThreshold, opts.ProblemLimit),
	}, nil
}

// ComputeKPIs summarises trips. The efficiency average skips trips with no
// actual time.
func ComputeKPIs(views []warehouse.TripView) KPIs {
	k := KPIs{TotalTrips: len(views)}
	if len(views) == 0 {
		return k
	}
	var (
		deviation  float64
		efficiency float64
		timed      int
	)
	for _, v := range views {
		if v.IsCutoff {
			k.CutoffTrips++
		}
		deviation += v.TimeDeviation
		if v.ActualTime != 0 {
			efficiency += v.EfficiencyRatio
			timed++
		}
	}
	k.OnTimePct = 100 * float64(k.TotalTrips-k.CutoffTrips) / float64(k.TotalTrips)
	k.AvgTimeDeviation = deviation / float64(k.TotalTrips)
	if timed > 0 {
		k.AvgEfficiencyRatio = efficiency / float64(timed)
	}
	return k
}

// DailyStats groups trips by date, oldest first.
func DailyStats(views []warehouse.TripView) []DailyStat {
	type acc struct {
		stat      DailyStat
		deviation float64
		distance  float64
	}
	byDate := map[time.Time]*acc{}
	for _, v := range views {
		day := v.TripDate.UTC()
		a, ok := byDate[day]
		if !ok {
			a = &acc{stat: DailyStat{Date: day}}
			byDate[day] = a
		}
		a.stat.Trips++
		a.deviation += v.TimeDeviation
		a.distance += v.ActualDistance
		if v.IsCutoff {
			a.stat.Cutoffs++
		}
	}

	out := make([]DailyStat, 0, len(byDate))
	for _, a := range byDate {
		n := float64(a.stat.Trips)
		a.stat.AvgDeviation = a.deviation / n
		a.stat.AvgDistance = a.distance / n
		out = append(out, a.stat)
	}
	slices.SortFunc(out, func(a, b DailyStat) int { return a.Date.Compare(b.Date) })
	return out
}

// RoutePerformance groups trips by source and destination name, keeps routes
// with at least minTrips trips and orders them by average deviation, worst
// first.
func RoutePerformance(views []warehouse.TripView, minTrips int) []RouteStat {
	type key struct{ src, dst string }
	type acc struct {
		stat      RouteStat
		deviation float64
		actual    float64
		predicted float64
	}
	byRoute := map[key]*acc{}
	for _, v := range views {
		k := key{v.SourceName, v.DestinationName}
		a, ok := byRoute[k]
		if !ok {
			a = &acc{stat: RouteStat{Source: k.src, Destination: k.dst}}
			byRoute[k] = a
		}
		a.stat.Trips++
		a.deviation += v.TimeDeviation
		a.actual += v.ActualTime
		a.predicted += v.OSRMTime
		if v.IsCutoff {
			a.stat.Cutoffs++
		}
	}

	var out []RouteStat
	for _, a := range byRoute {
		if a.stat.Trips < minTrips {
			continue
		}
		n := float64(a.stat.Trips)
		a.stat.AvgDeviation = a.deviation / n
		a.stat.AvgActualTime = a.actual / n
		a.stat.AvgPredictedTime = a.predicted / n
		out = append(out, a.stat)
	}
	slices.SortFunc(out, func(a, b RouteStat) int {
		if c := cmp.Compare(b.AvgDeviation, a.AvgDeviation); c != 0 {
			return c
		}
		return cmp.Compare(a.Route(), b.Route())
	})
	return out
}

// ProblemTrips returns up to limit trips whose deviation exceeds threshold,
// largest deviation first.
func ProblemTrips(views []warehouse.TripView, threshold float64, limit int) []warehouse.TripView {
	var out []warehouse.TripView
	for _, v := range views {
		if v.TimeDeviation > threshold {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b warehouse.TripView) int {
		return cmp.Compare(b.TimeDeviation, a.TimeDeviation)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

package cli

import (
	"fmt"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/spf13/pflag"
)

// filterFlags are the trip view filters shared by export and report.
type filterFlags struct {
	from        string
	to          string
	routeTypes  []string
	source      string
	destination string
	cutoffOnly  bool
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.from, "from", "", "first trip date to include (YYYY-MM-DD)")
	fs.StringVar(&f.to, "to", "", "last trip date to include (YYYY-MM-DD)")
	fs.StringSliceVar(&f.routeTypes, "route-type", nil, "route types to include, e.g. FTL,Carting")
	fs.StringVar(&f.source, "source", "", "source location name")
	fs.StringVar(&f.destination, "destination", "", "destination location name")
	fs.BoolVar(&f.cutoffOnly, "cutoff-only", false, "only include cutoff trips")
}

func (f *filterFlags) filter() (warehouse.TripFilter, error) {
	filter := warehouse.TripFilter{
		RouteTypes:      f.routeTypes,
		SourceName:      f.source,
		DestinationName: f.destination,
		CutoffOnly:      f.cutoffOnly,
	}
	if f.from != "" {
		t, err := time.Parse(time.DateOnly, f.from)
		if err != nil {
			return filter, fmt.Errorf("invalid --from date %q: %w", f.from, err)
		}
		filter.From = t
	}
	if f.to != "" {
		t, err := time.Parse(time.DateOnly, f.to)
		if err != nil {
			return filter, fmt.Errorf("invalid --to date %q: %w", f.to, err)
		}
		filter.To = t
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("--to %s is before --from %s", f.to, f.from)
	}
	return filter, nil
}

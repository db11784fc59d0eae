package warehouse

import (
	"context"
	"errors"

	"github.com/smartlogix/tripwarehouse/internal/trips"
)

type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FactLoader loads cleaned trips as fact rows.
type FactLoader struct {
	resolver *Resolver
	store    FactStore
	metrics  *Metrics
}

func NewFactLoader(resolver *Resolver, store FactStore) (*FactLoader, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &FactLoader{resolver: resolver, store: store, metrics: resolver.metrics}, nil
}

// LoadFact resolves the trip's dimensions and inserts its fact row unless a
// row with the same trip identifier exists, in which case it reports
// OutcomeSkipped and leaves the existing row untouched.
//
// Invalid trips fail with a *trips.ValidationError before the store is
// touched. Store failures are returned as *StorageError.
func (l *FactLoader) LoadFact(ctx context.Context, t trips.Trip) (Outcome, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	dateID, err := l.resolver.ResolveDate(ctx, t.CreatedAt)
	if err != nil {
		return 0, err
	}
	sourceID, err := l.resolver.ResolveLocation(ctx, LocationKey{Code: t.SourceCenter, Name: t.SourceName, Type: LocationSource})
	if err != nil {
		return 0, err
	}
	destID, err := l.resolver.ResolveLocation(ctx, LocationKey{Code: t.DestinationCenter, Name: t.DestinationName, Type: LocationDestination})
	if err != nil {
		return 0, err
	}
	vehicleID, err := l.resolver.ResolveVehicle(ctx, t.Vehicle())
	if err != nil {
		return 0, err
	}

	inserted, err := l.store.InsertFact(ctx, FactRow{
		TripUUID:              t.TripUUID,
		RouteScheduleUUID:     t.RouteScheduleUUID,
		RouteType:             t.RouteType,
		DateID:                dateID,
		SourceLocationID:      sourceID,
		DestinationLocationID: destID,
		VehicleID:             vehicleID,
		ActualTime:            t.ActualTime,
		OSRMTime:              t.OSRMTime,
		TimeDeviation:         t.TimeDeviation(),
		ActualDistance:        t.ActualDistance,
		OSRMDistance:          t.OSRMDistance,
		SegmentFactor:         t.SegmentFactor,
		IsCutoff:              t.IsCutoff,
	})
	if err != nil {
		return 0, &StorageError{Op: "insert fact", Err: err}
	}

	outcome := OutcomeSkipped
	if inserted {
		outcome = OutcomeInserted
	}
	l.metrics.FactsWritten.WithLabelValues(outcome.String()).Inc()
	return outcome, nil
}

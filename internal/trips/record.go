package trips

import (
	"fmt"
	"math"
	"time"
)

// DefaultVehicleType is used when the cleaned dataset carries no vehicle column.
const DefaultVehicleType = "Unknown"

// Column names of the canonical cleaned dataset.
const (
	ColTripUUID          = "trip_uuid"
	ColRouteScheduleUUID = "route_schedule_uuid"
	ColRouteType         = "route_type"
	ColCreatedAt         = "trip_creation_time"
	ColSourceCenter      = "source_center"
	ColSourceName        = "source_name"
	ColDestCenter        = "destination_center"
	ColDestName          = "destination_name"
	ColVehicleType       = "vehicle_type"
	ColActualTime        = "actual_time"
	ColOSRMTime          = "osrm_time"
	ColTimeDeviation     = "time_deviation"
	ColActualDistance    = "actual_distance_to_destination"
	ColOSRMDistance      = "osrm_distance"
	ColSegmentFactor     = "segment_factor"
	ColIsCutoff          = "is_cutoff"
)

// Columns is the column order written for cleaned datasets.
var Columns = []string{
	ColTripUUID,
	ColRouteScheduleUUID,
	ColRouteType,
	ColCreatedAt,
	ColSourceCenter,
	ColSourceName,
	ColDestCenter,
	ColDestName,
	ColVehicleType,
	ColActualTime,
	ColOSRMTime,
	ColTimeDeviation,
	ColActualDistance,
	ColOSRMDistance,
	ColSegmentFactor,
	ColIsCutoff,
}

// RequiredColumns must be present in the header of a cleaned dataset.
var RequiredColumns = []string{
	ColTripUUID,
	ColRouteScheduleUUID,
	ColRouteType,
	ColCreatedAt,
	ColSourceCenter,
	ColSourceName,
	ColDestCenter,
	ColDestName,
	ColActualTime,
	ColOSRMTime,
	ColActualDistance,
	ColOSRMDistance,
	ColSegmentFactor,
	ColIsCutoff,
}

// Trip is one cleaned delivery trip.
type Trip struct {
	// Row is the 1-based data row in the source dataset, 0 when unknown.
	Row int

	TripUUID          string
	RouteScheduleUUID string
	RouteType         string
	CreatedAt         time.Time
	SourceCenter      string
	SourceName        string
	DestinationCenter string
	DestinationName   string
	VehicleType       string

	ActualTime     float64
	OSRMTime       float64
	ActualDistance float64
	OSRMDistance   float64
	SegmentFactor  float64
	IsCutoff       bool
}

// TimeDeviation is the difference between the actual and the model-predicted elapsed time.
func (t Trip) TimeDeviation() float64 {
	return t.ActualTime - t.OSRMTime
}

// Vehicle returns the vehicle type label, falling back to DefaultVehicleType.
func (t Trip) Vehicle() string {
	if t.VehicleType == "" {
		return DefaultVehicleType
	}
	return t.VehicleType
}

// Validate checks the structural preconditions for loading the trip into the warehouse.
func (t Trip) Validate() error {
	invalid := func(field, reason string) error {
		return &ValidationError{Row: t.Row, TripUUID: t.TripUUID, Field: field, Reason: reason}
	}

	if t.TripUUID == "" {
		return invalid(ColTripUUID, "missing")
	}
	if t.CreatedAt.IsZero() {
		return invalid(ColCreatedAt, "missing")
	}
	if t.SourceCenter == "" {
		return invalid(ColSourceCenter, "missing")
	}
	if t.SourceName == "" {
		return invalid(ColSourceName, "missing")
	}
	if t.DestinationCenter == "" {
		return invalid(ColDestCenter, "missing")
	}
	if t.DestinationName == "" {
		return invalid(ColDestName, "missing")
	}

	measures := []struct {
		name  string
		value float64
	}{
		{ColActualTime, t.ActualTime},
		{ColOSRMTime, t.OSRMTime},
		{ColActualDistance, t.ActualDistance},
		{ColOSRMDistance, t.OSRMDistance},
		{ColSegmentFactor, t.SegmentFactor},
	}
	for _, m := range measures {
		if math.IsNaN(m.value) || math.IsInf(m.value, 0) {
			return invalid(m.name, fmt.Sprintf("not a finite number: %v", m.value))
		}
	}
	return nil
}

package warehouse

import (
	"fmt"
	"strings"
	"time"
)

// Statements shared by the Postgres and DuckDB backends. Both accept $n
// placeholders, INSERT ... ON CONFLICT and RETURNING.
const (
	FindDateSQL   = `SELECT date_id FROM dim_date WHERE full_date = CAST($1 AS DATE)`
	InsertDateSQL = `INSERT INTO dim_date (full_date, day, month, year, day_of_week, is_weekend)
VALUES (CAST($1 AS DATE), $2, $3, $4, $5, $6)
ON CONFLICT (full_date) DO NOTHING
RETURNING date_id`

	FindLocationSQL   = `SELECT location_id FROM dim_location WHERE center_code = $1 AND center_name = $2 AND location_type = $3`
	InsertLocationSQL = `INSERT INTO dim_location (center_code, center_name, location_type)
VALUES ($1, $2, $3)
ON CONFLICT (center_code, center_name, location_type) DO NOTHING
RETURNING location_id`

	FindVehicleSQL   = `SELECT vehicle_id FROM dim_vehicles WHERE vehicle_type = $1`
	InsertVehicleSQL = `INSERT INTO dim_vehicles (vehicle_type)
VALUES ($1)
ON CONFLICT (vehicle_type) DO NOTHING
RETURNING vehicle_id`

	InsertFactSQL = `INSERT INTO fact_trips (
	trip_uuid, route_schedule_uuid, route_type, date_id,
	source_location_id, destination_location_id, vehicle_id,
	actual_time, osrm_time, time_deviation,
	actual_distance_to_destination, osrm_distance, segment_factor, is_cutoff
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (trip_uuid) DO NOTHING
RETURNING trip_id`

	CountsSQL = `SELECT
	(SELECT COUNT(*) FROM dim_date),
	(SELECT COUNT(*) FROM dim_location),
	(SELECT COUNT(*) FROM dim_vehicles),
	(SELECT COUNT(*) FROM fact_trips)`

	InsertLoadRunSQL = `INSERT INTO etl_load_runs (
	run_id, source, started_at, finished_at,
	total_count, inserted_count, skipped_count, error_count, aborted, abort_reason
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id) DO NOTHING`
)

// Args returns the InsertDateSQL arguments.
func (r DateRow) Args() []any {
	return []any{r.FullDate, r.Day, r.Month, r.Year, r.DayOfWeek, r.IsWeekend}
}

// Args returns the InsertLocationSQL and FindLocationSQL arguments.
func (k LocationKey) Args() []any {
	return []any{k.Code, k.Name, string(k.Type)}
}

// Args returns the InsertFactSQL arguments.
func (r FactRow) Args() []any {
	return []any{
		r.TripUUID, r.RouteScheduleUUID, r.RouteType, r.DateID,
		r.SourceLocationID, r.DestinationLocationID, r.VehicleID,
		r.ActualTime, r.OSRMTime, r.TimeDeviation,
		r.ActualDistance, r.OSRMDistance, r.SegmentFactor, r.IsCutoff,
	}
}

// Args returns the InsertLoadRunSQL arguments.
func (r LoadRun) Args() []any {
	return []any{
		r.RunID, r.Source, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.Total, r.Inserted, r.Skipped, r.Errors, r.Aborted, r.AbortReason,
	}
}

// TripView is a fact row joined with its dimensions.
type TripView struct {
	TripID            int64     `json:"trip_id" ch:"trip_id"`
	TripUUID          string    `json:"trip_uuid" ch:"trip_uuid"`
	RouteScheduleUUID string    `json:"route_schedule_uuid" ch:"route_schedule_uuid"`
	RouteType         string    `json:"route_type" ch:"route_type"`
	TripDate          time.Time `json:"trip_date" ch:"trip_date"`
	DayOfWeek         string    `json:"day_of_week" ch:"day_of_week"`
	IsWeekend         bool      `json:"is_weekend" ch:"is_weekend"`
	Month             int32     `json:"month" ch:"month"`
	Year              int32     `json:"year" ch:"year"`
	SourceCode        string    `json:"source_center" ch:"source_center"`
	SourceName        string    `json:"source_name" ch:"source_name"`
	DestinationCode   string    `json:"destination_center" ch:"destination_center"`
	DestinationName   string    `json:"destination_name" ch:"destination_name"`
	VehicleType       string    `json:"vehicle_type" ch:"vehicle_type"`
	ActualTime        float64   `json:"actual_time" ch:"actual_time"`
	OSRMTime          float64   `json:"osrm_time" ch:"osrm_time"`
	TimeDeviation     float64   `json:"time_deviation" ch:"time_deviation"`
	ActualDistance    float64   `json:"actual_distance_to_destination" ch:"actual_distance_to_destination"`
	OSRMDistance      float64   `json:"osrm_distance" ch:"osrm_distance"`
	SegmentFactor     float64   `json:"segment_factor" ch:"segment_factor"`
	IsCutoff          bool      `json:"is_cutoff" ch:"is_cutoff"`

	Route              string  `json:"route" ch:"route"`
	EfficiencyRatio    float64 `json:"efficiency_ratio" ch:"efficiency_ratio"`
	DistanceEfficiency float64 `json:"distance_efficiency" ch:"distance_efficiency"`
}

// ScanTargets returns pointers matching the column order of TripViewQuery.
func (v *TripView) ScanTargets() []any {
	return []any{
		&v.TripID, &v.TripUUID, &v.RouteScheduleUUID, &v.RouteType,
		&v.TripDate, &v.DayOfWeek, &v.IsWeekend, &v.Month, &v.Year,
		&v.SourceCode, &v.SourceName, &v.DestinationCode, &v.DestinationName, &v.VehicleType,
		&v.ActualTime, &v.OSRMTime, &v.TimeDeviation,
		&v.ActualDistance, &v.OSRMDistance, &v.SegmentFactor, &v.IsCutoff,
	}
}

// Derive fills the computed fields from the scanned columns.
func (v *TripView) Derive() {
	v.TripDate = v.TripDate.UTC()
	v.Route = v.SourceName + " → " + v.DestinationName
	v.EfficiencyRatio = ratio(v.OSRMTime, v.ActualTime)
	v.DistanceEfficiency = ratio(v.OSRMDistance, v.ActualDistance)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// TripFilter narrows a trip view query. Zero values do not filter.
type TripFilter struct {
	From            time.Time
	To              time.Time
	RouteTypes      []string
	SourceName      string
	DestinationName string
	CutoffOnly      bool

	// AfterID and Limit page through results ordered by trip_id.
	AfterID int64
	Limit   int
}

const tripViewSelect = `SELECT
	f.trip_id, f.trip_uuid, f.route_schedule_uuid, f.route_type,
	d.full_date, d.day_of_week, d.is_weekend, d.month, d.year,
	src.center_code, src.center_name, dst.center_code, dst.center_name, v.vehicle_type,
	f.actual_time, f.osrm_time, f.time_deviation,
	f.actual_distance_to_destination, f.osrm_distance, f.segment_factor, f.is_cutoff
FROM fact_trips f
JOIN dim_date d ON d.date_id = f.date_id
JOIN dim_location src ON src.location_id = f.source_location_id
JOIN dim_location dst ON dst.location_id = f.destination_location_id
JOIN dim_vehicles v ON v.vehicle_id = f.vehicle_id`

// TripViewQuery builds the joined trip view query for a filter.
func TripViewQuery(f TripFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AfterID > 0 {
		where = append(where, "f.trip_id > "+arg(f.AfterID))
	}
	if !f.From.IsZero() {
		where = append(where, "d.full_date >= CAST("+arg(f.From.UTC())+" AS DATE)")
	}
	if !f.To.IsZero() {
		where = append(where, "d.full_date <= CAST("+arg(f.To.UTC())+" AS DATE)")
	}
	if len(f.RouteTypes) > 0 {
		placeholders := make([]string, len(f.RouteTypes))
		for i, rt := range f.RouteTypes {
			placeholders[i] = arg(rt)
		}
		where = append(where, "f.route_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.SourceName != "" {
		where = append(where, "src.center_name = "+arg(f.SourceName))
	}
	if f.DestinationName != "" {
		where = append(where, "dst.center_name = "+arg(f.DestinationName))
	}
	if f.CutoffOnly {
		where = append(where, "f.is_cutoff = TRUE")
	}

	var b strings.Builder
	b.WriteString(tripViewSelect)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY f.trip_id")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), args
}

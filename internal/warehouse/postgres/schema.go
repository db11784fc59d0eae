package postgres

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS dim_date (
		date_id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		full_date DATE NOT NULL UNIQUE,
		day SMALLINT NOT NULL,
		month SMALLINT NOT NULL,
		year INTEGER NOT NULL,
		day_of_week VARCHAR(9) NOT NULL,
		is_weekend BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_location (
		location_id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		center_code TEXT NOT NULL,
		center_name TEXT NOT NULL,
		location_type TEXT NOT NULL CHECK (location_type IN ('Source', 'Destination')),
		UNIQUE (center_code, center_name, location_type)
	)`,
	`CREATE TABLE IF NOT EXISTS dim_vehicles (
		vehicle_id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		vehicle_type TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fact_trips (
		trip_id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		trip_uuid TEXT NOT NULL UNIQUE,
		route_schedule_uuid TEXT NOT NULL,
		route_type TEXT NOT NULL,
		date_id BIGINT NOT NULL REFERENCES dim_date (date_id),
		source_location_id BIGINT NOT NULL REFERENCES dim_location (location_id),
		destination_location_id BIGINT NOT NULL REFERENCES dim_location (location_id),
		vehicle_id BIGINT NOT NULL REFERENCES dim_vehicles (vehicle_id),
		actual_time DOUBLE PRECISION NOT NULL,
		osrm_time DOUBLE PRECISION NOT NULL,
		time_deviation DOUBLE PRECISION NOT NULL,
		actual_distance_to_destination DOUBLE PRECISION NOT NULL,
		osrm_distance DOUBLE PRECISION NOT NULL,
		segment_factor DOUBLE PRECISION NOT NULL,
		is_cutoff BOOLEAN NOT NULL DEFAULT FALSE,
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS fact_trips_date_id_idx ON fact_trips (date_id)`,
	`CREATE TABLE IF NOT EXISTS etl_load_runs (
		run_id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		total_count BIGINT NOT NULL,
		inserted_count BIGINT NOT NULL,
		skipped_count BIGINT NOT NULL,
		error_count BIGINT NOT NULL,
		aborted BOOLEAN NOT NULL,
		abort_reason TEXT NOT NULL DEFAULT ''
	)`,
}

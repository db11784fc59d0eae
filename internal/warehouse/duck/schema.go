package duck

var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS dim_date_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS dim_location_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS dim_vehicles_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS fact_trips_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS dim_date (
		date_id BIGINT PRIMARY KEY DEFAULT nextval('dim_date_id_seq'),
		full_date DATE NOT NULL UNIQUE,
		day INTEGER NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		day_of_week VARCHAR NOT NULL,
		is_weekend BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dim_location (
		location_id BIGINT PRIMARY KEY DEFAULT nextval('dim_location_id_seq'),
		center_code VARCHAR NOT NULL,
		center_name VARCHAR NOT NULL,
		location_type VARCHAR NOT NULL CHECK (location_type IN ('Source', 'Destination')),
		UNIQUE (center_code, center_name, location_type)
	)`,
	`CREATE TABLE IF NOT EXISTS dim_vehicles (
		vehicle_id BIGINT PRIMARY KEY DEFAULT nextval('dim_vehicles_id_seq'),
		vehicle_type VARCHAR NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fact_trips (
		trip_id BIGINT PRIMARY KEY DEFAULT nextval('fact_trips_id_seq'),
		trip_uuid VARCHAR NOT NULL UNIQUE,
		route_schedule_uuid VARCHAR NOT NULL,
		route_type VARCHAR NOT NULL,
		date_id BIGINT NOT NULL REFERENCES dim_date (date_id),
		source_location_id BIGINT NOT NULL REFERENCES dim_location (location_id),
		destination_location_id BIGINT NOT NULL REFERENCES dim_location (location_id),
		vehicle_id BIGINT NOT NULL REFERENCES dim_vehicles (vehicle_id),
		actual_time DOUBLE NOT NULL,
		osrm_time DOUBLE NOT NULL,
		time_deviation DOUBLE NOT NULL,
		actual_distance_to_destination DOUBLE NOT NULL,
		osrm_distance DOUBLE NOT NULL,
		segment_factor DOUBLE NOT NULL,
		is_cutoff BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS etl_load_runs (
		run_id VARCHAR PRIMARY KEY,
		source VARCHAR NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		total_count BIGINT NOT NULL,
		inserted_count BIGINT NOT NULL,
		skipped_count BIGINT NOT NULL,
		error_count BIGINT NOT NULL,
		aborted BOOLEAN NOT NULL,
		abort_reason VARCHAR NOT NULL DEFAULT ''
	)`,
}

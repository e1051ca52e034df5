package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// schemaStatements creates the booking schema. Every statement is
// idempotent so EnsureSchema can run on each start.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS drivers (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		rating NUMERIC(3,2) NOT NULL DEFAULT 0,
		rating_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS route_templates (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		driver_id UUID NOT NULL REFERENCES drivers(id),
		name TEXT NOT NULL,
		base_price NUMERIC(10,2) NOT NULL CHECK (base_price >= 0),
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS route_cities (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		route_template_id UUID NOT NULL REFERENCES route_templates(id) ON DELETE CASCADE,
		city_name TEXT NOT NULL,
		country_code CHAR(2),
		sequence_order INTEGER NOT NULL,
		UNIQUE (route_template_id, sequence_order),
		UNIQUE (route_template_id, city_name)
	)`,

	`CREATE TABLE IF NOT EXISTS stations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		route_city_id UUID NOT NULL REFERENCES route_cities(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		address TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS intercity_fares (
		route_template_id UUID NOT NULL REFERENCES route_templates(id) ON DELETE CASCADE,
		from_city TEXT NOT NULL,
		to_city TEXT NOT NULL,
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		PRIMARY KEY (route_template_id, from_city, to_city)
	)`,

	`CREATE TABLE IF NOT EXISTS vehicles (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		driver_id UUID NOT NULL REFERENCES drivers(id),
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		license_plate TEXT NOT NULL UNIQUE,
		seat_capacity INTEGER NOT NULL CHECK (seat_capacity > 0),
		has_ac BOOLEAN NOT NULL DEFAULT FALSE,
		has_wifi BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS luggage_policies (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		driver_id UUID NOT NULL REFERENCES drivers(id),
		name TEXT NOT NULL,
		free_bag_weight_kg NUMERIC(5,2),
		excess_fee_per_bag NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (excess_fee_per_bag >= 0),
		max_additional_bags INTEGER NOT NULL DEFAULT 0 CHECK (max_additional_bags >= 0),
		max_bag_size TEXT,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS luggage_policies_one_default
		ON luggage_policies (driver_id) WHERE is_default`,

	`CREATE TABLE IF NOT EXISTS trips (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		route_template_id UUID NOT NULL REFERENCES route_templates(id),
		driver_id UUID NOT NULL REFERENCES drivers(id),
		vehicle_id UUID NOT NULL REFERENCES vehicles(id),
		luggage_policy_id UUID REFERENCES luggage_policies(id),
		departure_time TIMESTAMPTZ NOT NULL,
		arrival_time TIMESTAMPTZ,
		available_seats INTEGER NOT NULL CHECK (available_seats >= 0),
		total_seats INTEGER NOT NULL CHECK (total_seats > 0),
		status TEXT NOT NULL DEFAULT 'scheduled',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (available_seats <= total_seats)
	)`,
	`CREATE INDEX IF NOT EXISTS trips_status_departure ON trips (status, departure_time)`,

	`CREATE TABLE IF NOT EXISTS trip_stations (
		trip_id UUID NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		station_id UUID NOT NULL REFERENCES stations(id),
		is_pickup_point BOOLEAN NOT NULL DEFAULT TRUE,
		is_dropoff_point BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (trip_id, station_id)
	)`,

	`CREATE TABLE IF NOT EXISTS temp_bookings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		trip_id UUID NOT NULL REFERENCES trips(id),
		passenger_id UUID,
		pickup_station_id UUID NOT NULL REFERENCES stations(id),
		dropoff_station_id UUID NOT NULL REFERENCES stations(id),
		seats TEXT[] NOT NULL,
		number_of_bags INTEGER NOT NULL DEFAULT 0,
		segment_price NUMERIC(10,2) NOT NULL,
		luggage_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
		total_price NUMERIC(10,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		booking_reference TEXT,
		payment_intent_id TEXT UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		expires_at TIMESTAMPTZ NOT NULL,
		idempotency_key TEXT UNIQUE,
		hold_token_hash TEXT NOT NULL,
		client_platform TEXT,
		passenger_name TEXT NOT NULL,
		passenger_email TEXT NOT NULL,
		passenger_phone TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS temp_bookings_status_expires ON temp_bookings (status, expires_at)`,

	// temp_booking_id has no foreign key; it must outlive hold cleanup
	`CREATE TABLE IF NOT EXISTS reservations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		trip_id UUID NOT NULL REFERENCES trips(id),
		passenger_id UUID,
		pickup_station_id UUID NOT NULL REFERENCES stations(id),
		dropoff_station_id UUID NOT NULL REFERENCES stations(id),
		seat_count INTEGER NOT NULL CHECK (seat_count > 0),
		number_of_bags INTEGER NOT NULL DEFAULT 0,
		segment_price NUMERIC(10,2) NOT NULL,
		luggage_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
		total_price NUMERIC(10,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		booking_reference TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'confirmed',
		temp_booking_id UUID UNIQUE,
		passenger_name TEXT NOT NULL,
		passenger_email TEXT NOT NULL,
		passenger_phone TEXT NOT NULL,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS booked_seats (
		reservation_id UUID NOT NULL REFERENCES reservations(id) ON DELETE CASCADE,
		trip_id UUID NOT NULL REFERENCES trips(id),
		seat_number TEXT NOT NULL,
		UNIQUE (trip_id, seat_number)
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		reservation_id UUID REFERENCES reservations(id),
		temp_booking_id UUID,
		processor_payment_id TEXT NOT NULL UNIQUE,
		amount NUMERIC(10,2) NOT NULL,
		currency CHAR(3) NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		status_indicator TEXT,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE payments ADD COLUMN IF NOT EXISTS status_indicator TEXT`,

	`CREATE TABLE IF NOT EXISTS payment_audits (
		id UUID PRIMARY KEY,
		temp_booking_id UUID,
		reservation_id UUID,
		processor_payment_id TEXT,
		event_type TEXT NOT NULL,
		event_source TEXT NOT NULL,
		expected_amount NUMERIC(10,2),
		received_amount NUMERIC(10,2),
		currency CHAR(3),
		amounts_match BOOLEAN,
		payment_status TEXT,
		payload JSONB,
		raw_body TEXT,
		error_message TEXT,
		error_code TEXT,
		is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
		ip_address TEXT,
		user_agent TEXT,
		correlation_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS payment_audits_hold ON payment_audits (temp_booking_id)`,

	`CREATE TABLE IF NOT EXISTS round_trip_links (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		driver_id UUID NOT NULL REFERENCES drivers(id),
		outbound_trip_id UUID NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		return_trip_id UUID NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
		discount_rate NUMERIC(4,3) NOT NULL CHECK (discount_rate >= 0 AND discount_rate <= 0.5),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (outbound_trip_id, return_trip_id)
	)`,

	`CREATE TABLE IF NOT EXISTS search_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		from_input TEXT NOT NULL,
		to_input TEXT NOT NULL,
		departure_date TEXT,
		results_count INTEGER NOT NULL,
		response_time_ms BIGINT NOT NULL,
		user_id UUID,
		ip_address TEXT,
		client_platform TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS hold_rate_limits (
		id BIGSERIAL PRIMARY KEY,
		identifier TEXT NOT NULL,
		identifier_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS hold_rate_limits_lookup ON hold_rate_limits (identifier, identifier_type, created_at)`,
}

// EnsureSchema creates missing tables and indexes in a single transaction
func EnsureSchema(ctx context.Context, db *sqlx.DB, logger *logrus.Logger) error {
	logger.Info("Checking database schema...")

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	logger.WithField("statements", len(schemaStatements)).Info("Database schema is up to date")
	return nil
}

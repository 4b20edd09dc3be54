package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"moto-alarm/ingestion/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := config.Load()

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_extensions(ctx, conn)
	step2_samples_table(ctx, conn)
	step3_notification_records(ctx, conn)
	step4_access_logs(ctx, conn)
	step5_indexes(ctx, conn)
	step6_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: Extensions
// ─────────────────────────────────────────────────────────────
func step1_extensions(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	execOrFatal(ctx, conn,
		"CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;",
		"timescaledb extension",
	)
}

// ─────────────────────────────────────────────────────────────
// Step 2: tracker_samples hypertable
// ─────────────────────────────────────────────────────────────
func step2_samples_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: tracker_samples table ───────────────")

	// Every measurement is nullable: the tracker omits what it cannot read.
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS tracker_samples (
			id                          UUID             NOT NULL,
			entity_id                   TEXT             NOT NULL,

			-- Device clock; partitioning column
			timestamp                   TIMESTAMPTZ      NOT NULL,
			received_at                 TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			latitude                    DOUBLE PRECISION,
			longitude                   DOUBLE PRECISION,
			altitude                    DOUBLE PRECISION,
			heading                     DOUBLE PRECISION,
			speed                       DOUBLE PRECISION,
			accuracy                    DOUBLE PRECISION,
			fix_time                    DOUBLE PRECISION,
			provider                    TEXT,

			light_sensitivity           DOUBLE PRECISION,
			magnetic_field              DOUBLE PRECISION,

			azimuth                     DOUBLE PRECISION,
			pitch                       DOUBLE PRECISION,
			roll                        DOUBLE PRECISION,

			battery_level               INTEGER,
			battery_charging_time_left  TEXT,

			raw_payload                 JSONB
		);
	`, "tracker_samples table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'tracker_samples',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "tracker_samples converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3: notification_records
// ─────────────────────────────────────────────────────────────
func step3_notification_records(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: notification_records table ──────────")

	// key is an IP address or a type string such as device_disconnected
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS notification_records (
			key                 TEXT         PRIMARY KEY,
			category            TEXT         NOT NULL,
			last_notification   TIMESTAMPTZ  NOT NULL,
			notification_count  INTEGER      NOT NULL DEFAULT 1
		);
	`, "notification_records table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4: access_logs hypertable
// ─────────────────────────────────────────────────────────────
func step4_access_logs(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: access_logs table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS access_logs (
			ip_address          TEXT         NOT NULL,
			path                TEXT         NOT NULL,
			method              TEXT         NOT NULL,
			user_agent          TEXT,
			referer             TEXT,
			timestamp           TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			response_status     INTEGER      NOT NULL,
			processing_time_ms  BIGINT       NOT NULL DEFAULT 0
		);
	`, "access_logs table created")

	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'access_logs',
			'timestamp',
			if_not_exists => TRUE
		);
	`, "access_logs converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 5: Indexes
// ─────────────────────────────────────────────────────────────
func step5_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_samples_entity_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_samples_entity_time
				  ON tracker_samples (entity_id, timestamp DESC);`,
			why: "query: latest sample for one tracker",
		},
		{
			name: "idx_access_logs_ip_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_access_logs_ip_time
				  ON access_logs (ip_address, timestamp DESC);`,
			why: "query: requests from one ip",
		},
		{
			name: "idx_notification_records_category",
			sql: `CREATE INDEX IF NOT EXISTS idx_notification_records_category
				  ON notification_records (category);`,
			why: "query: records by notification category",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step6_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"tracker_samples", "notification_records", "access_logs"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var hypertables int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM timescaledb_information.hypertables
		WHERE hypertable_name IN ('tracker_samples', 'access_logs')
	`).Scan(&hypertables)
	if err != nil || hypertables != 2 {
		log.Fatalf("expected 2 hypertables, found %d: %v", hypertables, err)
	}
	fmt.Printf("  ✓ hypertables: %d (time partitioned)\n", hypertables)

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('tracker_samples', 'notification_records', 'access_logs')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

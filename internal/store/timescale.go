package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"moto-alarm/ingestion/internal/config"
	"moto-alarm/ingestion/internal/domain"
)

type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const sampleColumns = `
	id, entity_id, timestamp, received_at,
	latitude, longitude, altitude, heading, speed, accuracy, fix_time, provider,
	light_sensitivity, magnetic_field,
	azimuth, pitch, roll,
	battery_level, battery_charging_time_left`

func (s *TimescaleStore) AppendSample(ctx context.Context, entityID string, sample *domain.Sample) (*domain.Sample, error) {
	loc := sample.Location
	if loc == nil {
		loc = &domain.Location{}
	}
	ang := sample.Angle
	if ang == nil {
		ang = &domain.Orientation{}
	}

	var raw any
	if len(sample.RawPayload) > 0 {
		raw = string(sample.RawPayload)
	}

	query := `
		INSERT INTO tracker_samples (` + sampleColumns + `, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := s.pool.Exec(ctx, query,
		sample.ID, entityID, sample.Timestamp, sample.ReceivedAt,
		loc.Latitude, loc.Longitude, loc.Altitude, loc.Angle, loc.Speed, loc.Accuracy, loc.Time, nullString(loc.Provider),
		sample.LightSensitivity, sample.MagneticField,
		ang.Azimuth, ang.Pitch, ang.Roll,
		sample.BatteryLevel, nullString(sample.BatteryChargingTimeLeft),
		raw,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sample for %s failed: %w", entityID, err)
	}

	stored := *sample
	stored.EntityID = entityID
	return &stored, nil
}

func (s *TimescaleStore) GetLatestSample(ctx context.Context, entityID string) (*domain.Sample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM tracker_samples
		WHERE entity_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`
	sample, err := scanSample(s.pool.QueryRow(ctx, query, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample for %s failed: %w", entityID, err)
	}
	return sample, nil
}

// ListSamples returns up to limit of the newest samples taken at or after
// since, oldest first.
func (s *TimescaleStore) ListSamples(ctx context.Context, entityID string, since time.Time, limit int) ([]domain.Sample, error) {
	query := `
		SELECT * FROM (
			SELECT ` + sampleColumns + `
			FROM tracker_samples
			WHERE entity_id = $1 AND timestamp >= $2
			ORDER BY timestamp DESC
			LIMIT $3
		) recent
		ORDER BY timestamp ASC
	`
	rows, err := s.pool.Query(ctx, query, entityID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("sample history for %s failed: %w", entityID, err)
	}
	defer rows.Close()

	var out []domain.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("sample scan failed: %w", err)
		}
		out = append(out, *sample)
	}
	return out, rows.Err()
}

func scanSample(row pgx.Row) (*domain.Sample, error) {
	var (
		sample   domain.Sample
		loc      domain.Location
		ang      domain.Orientation
		provider *string
		charging *string
	)
	err := row.Scan(
		&sample.ID, &sample.EntityID, &sample.Timestamp, &sample.ReceivedAt,
		&loc.Latitude, &loc.Longitude, &loc.Altitude, &loc.Angle, &loc.Speed, &loc.Accuracy, &loc.Time, &provider,
		&sample.LightSensitivity, &sample.MagneticField,
		&ang.Azimuth, &ang.Pitch, &ang.Roll,
		&sample.BatteryLevel, &charging,
	)
	if err != nil {
		return nil, err
	}

	if provider != nil {
		loc.Provider = *provider
	}
	if charging != nil {
		sample.BatteryChargingTimeLeft = *charging
	}
	if loc.Latitude != nil || loc.Longitude != nil || loc.Altitude != nil || loc.Provider != "" {
		sample.Location = &loc
	}
	if ang.Azimuth != nil || ang.Pitch != nil || ang.Roll != nil {
		sample.Angle = &ang
	}
	return &sample, nil
}

func (s *TimescaleStore) GetNotificationRecord(ctx context.Context, key string) (*domain.NotificationRecord, error) {
	var rec domain.NotificationRecord
	err := s.pool.QueryRow(ctx, `
		SELECT key, category, last_notification, notification_count
		FROM notification_records
		WHERE key = $1
	`, key).Scan(&rec.Key, &rec.Category, &rec.LastNotification, &rec.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notification record lookup failed: %w", err)
	}
	return &rec, nil
}

func (s *TimescaleStore) UpsertNotificationRecord(ctx context.Context, key, category string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_records (key, category, last_notification, notification_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (key) DO UPDATE SET
			category           = EXCLUDED.category,
			last_notification  = EXCLUDED.last_notification,
			notification_count = notification_records.notification_count + 1
	`, key, category, at)
	if err != nil {
		return fmt.Errorf("notification record upsert failed: %w", err)
	}
	return nil
}

func (s *TimescaleStore) DeleteNotificationRecord(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM notification_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("notification record delete failed: %w", err)
	}
	return nil
}

var accessLogColumns = []string{
	"ip_address",
	"path",
	"method",
	"user_agent",
	"referer",
	"timestamp",
	"response_status",
	"processing_time_ms",
}

func (s *TimescaleStore) BatchInsertAccessLogs(ctx context.Context, entries []*domain.AccessLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(entries))
	for i, e := range entries {
		rows[i] = []interface{}{
			e.IPAddress,
			e.Path,
			e.Method,
			nullString(e.UserAgent),
			nullString(e.Referer),
			e.Timestamp,
			e.ResponseStatus,
			e.ProcessingTimeMS,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"access_logs"},
		accessLogColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(entries), err)
	}
	return nil
}

func (s *TimescaleStore) ListAccessLogs(ctx context.Context, f domain.AccessLogFilter) ([]domain.AccessLogEntry, error) {
	var (
		conds []string
		args  []any
	)
	if f.IP != "" {
		args = append(args, f.IP)
		conds = append(conds, fmt.Sprintf("ip_address = $%d", len(args)))
	}
	if f.Path != "" {
		args = append(args, "%"+f.Path+"%")
		conds = append(conds, fmt.Sprintf("path LIKE $%d", len(args)))
	}
	if f.Method != "" {
		args = append(args, strings.ToUpper(f.Method))
		conds = append(conds, fmt.Sprintf("method = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT ip_address, path, method, COALESCE(user_agent, ''), COALESCE(referer, ''),
		       timestamp, response_status, processing_time_ms
		FROM access_logs
		%s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("access log query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.AccessLogEntry
	for rows.Next() {
		var e domain.AccessLogEntry
		if err := rows.Scan(&e.IPAddress, &e.Path, &e.Method, &e.UserAgent, &e.Referer,
			&e.Timestamp, &e.ResponseStatus, &e.ProcessingTimeMS); err != nil {
			return nil, fmt.Errorf("access log scan failed: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccessLogStats aggregates requests per IP since the given time (all time
// when zero), busiest first.
func (s *TimescaleStore) AccessLogStats(ctx context.Context, since time.Time) ([]domain.AccessLogStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip_address,
		       COUNT(*),
		       MIN(timestamp),
		       MAX(timestamp),
		       COALESCE(AVG(processing_time_ms), 0)::float8
		FROM access_logs
		WHERE timestamp >= $1
		GROUP BY ip_address
		ORDER BY COUNT(*) DESC, ip_address
	`, since)
	if err != nil {
		return nil, fmt.Errorf("access log stats query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.AccessLogStats
	for rows.Next() {
		var st domain.AccessLogStats
		if err := rows.Scan(&st.IPAddress, &st.RequestCount, &st.FirstSeen, &st.LastSeen, &st.AvgProcessingTimeMS); err != nil {
			return nil, fmt.Errorf("access log stats scan failed: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

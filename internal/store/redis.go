package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"moto-alarm/ingestion/internal/config"
	"moto-alarm/ingestion/internal/domain"
)

const (
	blacklistKey    = "security:blacklist"
	knownDevicesKey = "security:known_ips"
	whitelistKey    = "security:whitelist"
	geoKey          = "trackers:geo"

	// Live state outlives a few missed pulls, then disappears from the map.
	stateTTL = 10 * time.Minute
)

// LivePattern matches every channel the live feed relays.
const LivePattern = "tracker:*"

var ErrNotFound = errors.New("not found")

func deviceKey(ip string) string              { return "security:device:" + ip }
func stateKey(entityID string) string         { return fmt.Sprintf("tracker:%s:state", entityID) }
func alarmKey(entityID string) string         { return fmt.Sprintf("tracker:%s:alarm", entityID) }
func TelemetryChannel(entityID string) string { return fmt.Sprintf("tracker:%s:telemetry", entityID) }
func AlertChannel(entityID string) string     { return fmt.Sprintf("tracker:%s:alerts", entityID) }

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// PublishState mirrors the latest sample and alarm verdict into a hash,
// the geo index and the telemetry channel in one round trip.
func (r *RedisStore) PublishState(ctx context.Context, sample *domain.Sample, st domain.AlarmState) error {
	stateData := map[string]interface{}{
		"entity_id":   sample.EntityID,
		"sample_id":   sample.ID,
		"mode":        string(st.Mode),
		"triggered":   st.Triggered,
		"reason":      st.Reason,
		"timestamp":   sample.Timestamp.Unix(),
		"received_at": sample.ReceivedAt.Unix(),
	}
	if loc := sample.Location; loc.HasCoordinates() {
		stateData["lat"] = *loc.Latitude
		stateData["lng"] = *loc.Longitude
	}
	if sample.BatteryLevel != nil {
		stateData["battery"] = *sample.BatteryLevel
	}
	if sample.LightSensitivity != nil {
		stateData["light"] = *sample.LightSensitivity
	}
	if sample.MagneticField != nil {
		stateData["magnetic"] = *sample.MagneticField
	}

	pubPayload, err := json.Marshal(map[string]interface{}{"type": "telemetry", "payload": stateData})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	key := stateKey(sample.EntityID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, stateData)
	pipe.Expire(ctx, key, stateTTL)
	if loc := sample.Location; loc.HasCoordinates() {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      sample.EntityID,
			Longitude: *loc.Longitude,
			Latitude:  *loc.Latitude,
		})
	}
	pipe.Publish(ctx, TelemetryChannel(sample.EntityID), pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	payload, err := json.Marshal(map[string]interface{}{"type": "alert", "payload": ev})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return r.client.Publish(ctx, AlertChannel(ev.EntityID), payload).Err()
}

func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("tracker:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) LoadAlarmState(ctx context.Context, entityID string) (*domain.AlarmState, error) {
	raw, err := r.client.Get(ctx, alarmKey(entityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get alarm state failed: %w", err)
	}
	var st domain.AlarmState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("corrupt alarm state for %s: %w", entityID, err)
	}
	return &st, nil
}

func (r *RedisStore) SaveAlarmState(ctx context.Context, entityID string, st domain.AlarmState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm state: %w", err)
	}
	return r.client.Set(ctx, alarmKey(entityID), raw, 0).Err()
}

// IsBlacklisted returns the blacklist entry for ip, or nil.
func (r *RedisStore) IsBlacklisted(ctx context.Context, ip string) (*domain.BlacklistEntry, error) {
	raw, err := r.client.HGet(ctx, blacklistKey, ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup failed: %w", err)
	}
	var e domain.BlacklistEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("corrupt blacklist entry for %s: %w", ip, err)
	}
	return &e, nil
}

func (r *RedisStore) AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal blacklist entry: %w", err)
	}
	return r.client.HSet(ctx, blacklistKey, e.IPAddress, raw).Err()
}

func (r *RedisStore) RemoveFromBlacklist(ctx context.Context, ip string) error {
	n, err := r.client.HDel(ctx, blacklistKey, ip).Result()
	if err != nil {
		return fmt.Errorf("blacklist remove failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) ListBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	all, err := r.client.HGetAll(ctx, blacklistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("blacklist list failed: %w", err)
	}
	out := make([]domain.BlacklistEntry, 0, len(all))
	for _, raw := range all {
		var e domain.BlacklistEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlacklistedAt.After(out[j].BlacklistedAt) })
	return out, nil
}

// RecordDeviceSighting stamps ip as seen at at, bumping its request count.
// It reports true only for the first sighting; HSETNX inside MULTI makes
// that decision atomic across instances.
func (r *RedisStore) RecordDeviceSighting(ctx context.Context, ip, userAgent string, at time.Time) (bool, error) {
	key := deviceKey(ip)
	ts := at.UTC().Format(time.RFC3339Nano)

	var first *redis.BoolCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		first = pipe.HSetNX(ctx, key, "first_seen", ts)
		pipe.HSet(ctx, key, "last_seen", ts, "user_agent", userAgent)
		pipe.HIncrBy(ctx, key, "request_count", 1)
		pipe.SAdd(ctx, knownDevicesKey, ip)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("device sighting for %s failed: %w", ip, err)
	}
	return first.Val(), nil
}

// ListKnownDevices returns every known device, most recently seen first.
func (r *RedisStore) ListKnownDevices(ctx context.Context) ([]domain.KnownDevice, error) {
	ips, err := r.client.SMembers(ctx, knownDevicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("known device list failed: %w", err)
	}
	out := make([]domain.KnownDevice, 0, len(ips))
	if len(ips) == 0 {
		return out, nil
	}

	type deviceCmds struct {
		ip        string
		fields    *redis.MapStringStringCmd
		whitelist *redis.BoolCmd
		blacklist *redis.SliceCmd
	}
	cmds := make([]deviceCmds, len(ips))
	pipe := r.client.Pipeline()
	for i, ip := range ips {
		cmds[i] = deviceCmds{
			ip:        ip,
			fields:    pipe.HGetAll(ctx, deviceKey(ip)),
			whitelist: pipe.SIsMember(ctx, whitelistKey, ip),
			blacklist: pipe.HMGet(ctx, blacklistKey, ip),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("known device details failed: %w", err)
	}

	for _, c := range cmds {
		fields := c.fields.Val()
		if len(fields) == 0 {
			continue
		}
		d := domain.KnownDevice{
			IPAddress:   c.ip,
			UserAgent:   fields["user_agent"],
			Whitelisted: c.whitelist.Val(),
		}
		d.FirstSeen, _ = time.Parse(time.RFC3339Nano, fields["first_seen"])
		d.LastSeen, _ = time.Parse(time.RFC3339Nano, fields["last_seen"])
		d.RequestCount, _ = strconv.ParseInt(fields["request_count"], 10, 64)

		if vals := c.blacklist.Val(); len(vals) == 1 && vals[0] != nil {
			d.Blacklisted = true
			var e domain.BlacklistEntry
			if raw, ok := vals[0].(string); ok && json.Unmarshal([]byte(raw), &e) == nil {
				d.BlacklistReason = e.Reason
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

// ForgetDevice drops the sighting history of ip; its next request counts as
// a first sighting. The whitelist is left alone.
func (r *RedisStore) ForgetDevice(ctx context.Context, ip string) error {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, knownDevicesKey, ip)
		pipe.Del(ctx, deviceKey(ip))
		return nil
	})
	if err != nil {
		return fmt.Errorf("known device forget failed: %w", err)
	}
	if removed.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) AddToWhitelist(ctx context.Context, ip string) error {
	if err := r.client.SAdd(ctx, whitelistKey, ip).Err(); err != nil {
		return fmt.Errorf("whitelist add failed: %w", err)
	}
	return nil
}

func (r *RedisStore) RemoveFromWhitelist(ctx context.Context, ip string) error {
	n, err := r.client.SRem(ctx, whitelistKey, ip).Result()
	if err != nil {
		return fmt.Errorf("whitelist remove failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, whitelistKey, ip).Result()
	if err != nil {
		return false, fmt.Errorf("whitelist lookup failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) ListWhitelist(ctx context.Context) ([]string, error) {
	ips, err := r.client.SMembers(ctx, whitelistKey).Result()
	if err != nil {
		return nil, fmt.Errorf("whitelist list failed: %w", err)
	}
	sort.Strings(ips)
	return ips, nil
}

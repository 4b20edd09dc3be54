package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"moto-alarm/ingestion/internal/alarm"
	"moto-alarm/ingestion/internal/auth"
	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/ingest"
	"moto-alarm/ingestion/internal/monitor"
	"moto-alarm/ingestion/internal/store"
)

const maxTelemetryBody = 1 << 20

// Map points less accurate than this are dropped from the location history.
const maxLocationAccuracy = 200.0

type AccessLogReader interface {
	ListAccessLogs(ctx context.Context, f domain.AccessLogFilter) ([]domain.AccessLogEntry, error)
	AccessLogStats(ctx context.Context, since time.Time) ([]domain.AccessLogStats, error)
}

// SampleHistory returns stored samples, oldest first.
type SampleHistory interface {
	ListSamples(ctx context.Context, entityID string, since time.Time, limit int) ([]domain.Sample, error)
}

// RecordForgetter removes a throttling record.
type RecordForgetter interface {
	Forget(ctx context.Context, key string) error
}

type ConnectivityChecker interface {
	Check(ctx context.Context) (monitor.Status, error)
}

type BatteryChecker interface {
	Check(ctx context.Context) (monitor.BatteryStatus, error)
}

type Handlers struct {
	ingest        *ingest.Service
	registry      *alarm.Registry
	admin         *auth.AdminAuth
	security      SecurityStore
	accessLogs    AccessLogReader
	samples       SampleHistory
	records       RecordForgetter
	connectivity  ConnectivityChecker
	battery       BatteryChecker
	defaultEntity string
	logger        *slog.Logger
}

func (h *Handlers) entity(r *http.Request) string {
	if id := r.URL.Query().Get("entity_id"); id != "" {
		return id
	}
	return h.defaultEntity
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TrackerData accepts one telemetry sample from an authenticated device.
func (h *Handlers) TrackerData(w http.ResponseWriter, r *http.Request) {
	entityID := EntityFromContext(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	sample, err := domain.ParseSample(raw)
	switch {
	case errors.Is(err, domain.ErrEmptyPayload):
		sample = nil
	case err != nil:
		h.logger.Warn("telemetry_rejected", "entity", entityID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid telemetry payload")
		return
	}

	out, err := h.ingest.Ingest(r.Context(), entityID, sample)
	if err != nil {
		h.logger.Error("telemetry_ingest_failed", "entity", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process telemetry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"triggered":   out.Triggered,
		"reason":      out.Reason,
		"low_battery": out.LowBattery,
	})
}

func (h *Handlers) LatestSample(w http.ResponseWriter, r *http.Request) {
	sample, err := h.ingest.Latest(r.Context(), h.entity(r))
	if err != nil {
		h.logger.Error("latest_sample_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load latest sample")
		return
	}
	if sample == nil {
		writeError(w, http.StatusNotFound, "no data received yet")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

type locationPoint struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Altitude     *float64  `json:"altitude,omitempty"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	Speed        *float64  `json:"speed,omitempty"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	Provider     string    `json:"provider"`
}

// Locations returns the recent track for the map. Points without a fix, at
// 0,0 or with poor accuracy are left out.
func (h *Handlers) Locations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours := queryInt(q.Get("hours"), 24)
	if hours <= 0 || hours > 24*31 {
		hours = 24
	}
	limit := queryInt(q.Get("limit"), 1000)
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	samples, err := h.samples.ListSamples(r.Context(), h.entity(r), since, limit)
	if err != nil {
		h.logger.Error("location_history_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}

	points := make([]locationPoint, 0, len(samples))
	for _, s := range samples {
		loc := s.Location
		if !loc.HasCoordinates() || *loc.Latitude == 0 || *loc.Longitude == 0 {
			continue
		}
		if loc.Accuracy != nil && *loc.Accuracy >= maxLocationAccuracy {
			continue
		}
		p := locationPoint{
			ID:           s.ID,
			Timestamp:    s.Timestamp,
			Latitude:     *loc.Latitude,
			Longitude:    *loc.Longitude,
			Altitude:     loc.Altitude,
			Accuracy:     loc.Accuracy,
			Speed:        loc.Speed,
			BatteryLevel: s.BatteryLevel,
			Provider:     loc.Provider,
		}
		if p.Provider == "" {
			p.Provider = "unknown"
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "no location data")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handlers) AlarmState(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.State(r.Context(), h.entity(r))
	if err != nil {
		h.logger.Error("alarm_state_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alarm state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type alarmSettings struct {
	Mode                    domain.Mode `json:"mode"`
	MovementSensitivity     int         `json:"movement_sensitivity"`
	DataPullIntervalSeconds int         `json:"data_pull_interval_seconds"`
}

func settingsOf(st domain.AlarmState) alarmSettings {
	return alarmSettings{
		Mode:                    st.Mode,
		MovementSensitivity:     st.MovementSensitivity,
		DataPullIntervalSeconds: st.DataPullIntervalSeconds,
	}
}

func (h *Handlers) GetAlarmSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.State(r.Context(), h.entity(r))
	if err != nil {
		h.logger.Error("alarm_settings_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load alarm settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsOf(st))
}

func (h *Handlers) UpdateAlarmSettings(w http.ResponseWriter, r *http.Request) {
	var u alarm.ArmingUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := h.registry.Configure(r.Context(), h.entity(r), u)
	if errors.Is(err, alarm.ErrInvalidArming) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("alarm_configure_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save alarm settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsOf(st))
}

func (h *Handlers) RearmAlarm(w http.ResponseWriter, r *http.Request) {
	st, err := h.registry.Rearm(r.Context(), h.entity(r))
	if err != nil {
		h.logger.Error("alarm_rearm_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to re-arm alarm")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) CheckConnectivity(w http.ResponseWriter, r *http.Request) {
	st, err := h.connectivity.Check(r.Context())
	if err != nil {
		h.logger.Error("connectivity_check_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "connectivity check failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) CheckBattery(w http.ResponseWriter, r *http.Request) {
	st, err := h.battery.Check(r.Context())
	if err != nil {
		h.logger.Error("battery_check_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "battery check failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, exp, err := h.admin.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.logger.Warn("admin_login_failed", "username", req.Username, "ip", clientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case errors.Is(err, auth.ErrAdminDisabled):
		writeError(w, http.StatusServiceUnavailable, "admin login is not configured")
		return
	case err != nil:
		h.logger.Error("admin_login_error", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.security.ListBlacklist(r.Context())
	if err != nil {
		h.logger.Error("blacklist_list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list blacklist")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type blacklistRequest struct {
	IPAddress string `json:"ip_address"`
	Reason    string `json:"reason"`
}

func (h *Handlers) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	addr, err := netip.ParseAddr(req.IPAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ip_address must be a valid IP")
		return
	}
	if req.Reason == "" {
		req.Reason = "Manually blacklisted"
	}
	entry := domain.BlacklistEntry{
		IPAddress:     addr.String(),
		Reason:        req.Reason,
		BlacklistedAt: time.Now().UTC(),
		BlacklistedBy: adminFromContext(r.Context()),
	}
	if err := h.security.AddToBlacklist(r.Context(), entry); err != nil {
		h.logger.Error("blacklist_add_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to blacklist ip")
		return
	}
	h.logger.Warn("ip_blacklisted", "ip", entry.IPAddress, "by", entry.BlacklistedBy, "reason", entry.Reason)
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	err := h.security.RemoveFromBlacklist(r.Context(), ip)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ip is not blacklisted")
		return
	}
	if err != nil {
		h.logger.Error("blacklist_remove_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove ip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListKnownDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.security.ListKnownDevices(r.Context())
	if err != nil {
		h.logger.Error("known_devices_list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list known devices")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// ForgetKnownDevice drops the device and its notification record so the
// next request from it is announced again.
func (h *Handlers) ForgetKnownDevice(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	err := h.security.ForgetDevice(r.Context(), ip)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device is not known")
		return
	}
	if err != nil {
		h.logger.Error("known_device_forget_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to forget device")
		return
	}
	if err := h.records.Forget(r.Context(), newDeviceKey(ip)); err != nil {
		h.logger.Error("notification_record_forget_failed", "ip", ip, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddWhitelist(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(chi.URLParam(r, "ip"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ip must be a valid IP")
		return
	}
	if err := h.security.AddToWhitelist(r.Context(), addr.String()); err != nil {
		h.logger.Error("whitelist_add_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to whitelist ip")
		return
	}
	h.logger.Info("ip_whitelisted", "ip", addr.String(), "by", adminFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ip_address": addr.String()})
}

func (h *Handlers) RemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	err := h.security.RemoveFromWhitelist(r.Context(), ip)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ip is not whitelisted")
		return
	}
	if err != nil {
		h.logger.Error("whitelist_remove_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove ip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	ips, err := h.security.ListWhitelist(r.Context())
	if err != nil {
		h.logger.Error("whitelist_list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list whitelist")
		return
	}
	writeJSON(w, http.StatusOK, ips)
}

func (h *Handlers) ListAccessLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AccessLogFilter{
		IP:     q.Get("ip"),
		Path:   q.Get("path"),
		Method: q.Get("method"),
		Limit:  queryInt(q.Get("limit"), 100),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	entries, err := h.accessLogs.ListAccessLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("access_log_list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list access logs")
		return
	}
	if entries == nil {
		entries = []domain.AccessLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// AccessLogStats aggregates requests per IP; hours limits the window and
// defaults to all time.
func (h *Handlers) AccessLogStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if hours := queryInt(r.URL.Query().Get("hours"), 0); hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	stats, err := h.accessLogs.AccessLogStats(r.Context(), since)
	if err != nil {
		h.logger.Error("access_log_stats_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load access log stats")
		return
	}
	if stats == nil {
		stats = []domain.AccessLogStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

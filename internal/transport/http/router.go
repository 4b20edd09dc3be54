package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"moto-alarm/ingestion/internal/alarm"
	"moto-alarm/ingestion/internal/auth"
	"moto-alarm/ingestion/internal/ingest"
	"moto-alarm/ingestion/internal/metrics"
)

// Deps are the collaborators the router serves. Live may be nil to disable
// the websocket feed.
//
// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
// Only enable it behind a proxy that overwrites those headers; otherwise a
// client can pick its own IP and walk around the blacklist.
type Deps struct {
	Ingest        *ingest.Service
	Registry      *alarm.Registry
	DeviceAuth    *auth.Authenticator
	AdminAuth     *auth.AdminAuth
	Security      SecurityStore
	AccessLogs    AccessLogReader
	AccessLogSink AccessLogDispatcher
	Samples       SampleHistory
	Records       RecordForgetter
	Notifier      Notifier
	Connectivity  ConnectivityChecker
	Battery       BatteryChecker
	Live          http.HandlerFunc
	DefaultEntity string
	Logger        *slog.Logger

	TrustProxyHeaders bool
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handlers{
		ingest:        d.Ingest,
		registry:      d.Registry,
		admin:         d.AdminAuth,
		security:      d.Security,
		accessLogs:    d.AccessLogs,
		samples:       d.Samples,
		records:       d.Records,
		connectivity:  d.Connectivity,
		battery:       d.Battery,
		defaultEntity: d.DefaultEntity,
		logger:        logger,
	}
	deviceAuth := NewAuthMiddleware(d.DeviceAuth)
	adminAuth := NewAdminMiddleware(d.AdminAuth)
	security := NewSecurityMiddleware(d.Security, d.Notifier, d.AccessLogSink, logger)

	r := chi.NewRouter()
	if d.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(security.Wrap)

	r.Get("/health", h.Health)
	r.Get("/metrics", metrics.HandleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.With(deviceAuth.Wrap).Post("/tracker/data", h.TrackerData)
		r.Post("/admin/login", h.AdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth.Wrap)

			r.Get("/tracker/latest", h.LatestSample)
			r.Get("/tracker/locations", h.Locations)

			r.Get("/alarm/state", h.AlarmState)
			r.Get("/alarm/settings", h.GetAlarmSettings)
			r.Put("/alarm/settings", h.UpdateAlarmSettings)
			r.Post("/alarm/rearm", h.RearmAlarm)

			r.Post("/check-connectivity", h.CheckConnectivity)
			r.Post("/check-battery", h.CheckBattery)

			r.Get("/admin/blacklist", h.ListBlacklist)
			r.Post("/admin/blacklist", h.AddBlacklist)
			r.Delete("/admin/blacklist/{ip}", h.RemoveBlacklist)
			r.Get("/admin/known-devices", h.ListKnownDevices)
			r.Delete("/admin/known-devices/{ip}", h.ForgetKnownDevice)
			r.Post("/admin/known-devices/{ip}/whitelist", h.AddWhitelist)
			r.Delete("/admin/known-devices/{ip}/whitelist", h.RemoveWhitelist)
			r.Get("/admin/whitelist", h.ListWhitelist)
			r.Get("/admin/access-logs", h.ListAccessLogs)
			r.Get("/admin/access-logs/stats", h.AccessLogStats)
		})
	})

	if d.Live != nil {
		r.With(adminAuth.Wrap).Get("/ws", d.Live)
	}

	return r
}

package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"moto-alarm/ingestion/internal/auth"
	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
	"moto-alarm/ingestion/internal/notify"
)

type ctxKey int

const (
	entityKey ctxKey = iota
	adminKey
)

// EntityFromContext returns the entity a device request authenticated as.
func EntityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(entityKey).(string)
	return id
}

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		entityID, ok := m.auth.Validate(r.Context(), apiKey)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), entityKey, entityID)))
	})
}

type AdminMiddleware struct {
	admin *auth.AdminAuth
}

func NewAdminMiddleware(a *auth.AdminAuth) *AdminMiddleware {
	return &AdminMiddleware{admin: a}
}

func (m *AdminMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			// Browsers cannot set headers on a websocket handshake.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := m.admin.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, claims.Username)))
	})
}

func adminFromContext(ctx context.Context) string {
	name, _ := ctx.Value(adminKey).(string)
	return name
}

// SecurityStore is the blacklist and known-device registry.
type SecurityStore interface {
	IsBlacklisted(ctx context.Context, ip string) (*domain.BlacklistEntry, error)
	AddToBlacklist(ctx context.Context, e domain.BlacklistEntry) error
	RemoveFromBlacklist(ctx context.Context, ip string) error
	ListBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error)
	RecordDeviceSighting(ctx context.Context, ip, userAgent string, at time.Time) (bool, error)
	ListKnownDevices(ctx context.Context) ([]domain.KnownDevice, error)
	ForgetDevice(ctx context.Context, ip string) error
	AddToWhitelist(ctx context.Context, ip string) error
	RemoveFromWhitelist(ctx context.Context, ip string) error
	IsWhitelisted(ctx context.Context, ip string) (bool, error)
	ListWhitelist(ctx context.Context) ([]string, error)
}

type Notifier interface {
	Notify(ctx context.Context, key string, c notify.Category, body string) bool
}

type AccessLogDispatcher interface {
	DispatchAccessLog(e *domain.AccessLogEntry) bool
}

// SecurityMiddleware blocks blacklisted clients on /api, announces first
// sightings of public IPs and records every request in the access log.
type SecurityMiddleware struct {
	store    SecurityStore
	notifier Notifier
	logs     AccessLogDispatcher
	logger   *slog.Logger
	now      func() time.Time
}

func NewSecurityMiddleware(store SecurityStore, n Notifier, logs AccessLogDispatcher, logger *slog.Logger) *SecurityMiddleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SecurityMiddleware{store: store, notifier: n, logs: logs, logger: logger, now: time.Now}
}

func (m *SecurityMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.now()
		ip := clientIP(r)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			if m.logs == nil {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.logs.DispatchAccessLog(&domain.AccessLogEntry{
				IPAddress:        ip,
				Path:             r.URL.RequestURI(),
				Method:           r.Method,
				UserAgent:        r.UserAgent(),
				Referer:          r.Referer(),
				Timestamp:        start.UTC(),
				ResponseStatus:   status,
				ProcessingTimeMS: m.now().Sub(start).Milliseconds(),
			})
		}()

		if strings.HasPrefix(r.URL.Path, "/api/") && m.blocked(r, ip) {
			writeJSON(ww, http.StatusForbidden, map[string]string{
				"error":   "Access denied",
				"message": "Your IP address has been blacklisted",
			})
			return
		}

		m.detectNewDevice(r, ip)
		next.ServeHTTP(ww, r)
	})
}

// blocked fails open on lookup errors so a Redis outage cannot lock out the
// tracker.
func (m *SecurityMiddleware) blocked(r *http.Request, ip string) bool {
	entry, err := m.store.IsBlacklisted(r.Context(), ip)
	if err != nil {
		m.logger.Error("blacklist_lookup_failed", "ip", ip, "error", err)
		return false
	}
	if entry == nil {
		return false
	}

	metrics.BlockedRequests.Add(1)
	m.logger.Warn("blocked_access", "ip", ip, "path", r.URL.Path, "reason", entry.Reason)

	body := fmt.Sprintf("BLOCKED ACCESS ATTEMPT!\n\nIP: %s\nPath: %s\nUser-Agent: %s\nReason: %s\nTime: %s",
		ip, r.URL.RequestURI(), orUnknown(r.UserAgent()), entry.Reason, m.now().Format(time.RFC1123))
	m.notifier.Notify(r.Context(), ip, notify.BlockedAccess, body)
	return true
}

func (m *SecurityMiddleware) detectNewDevice(r *http.Request, ip string) {
	if !isPublicIP(ip) {
		return
	}
	isNew, err := m.store.RecordDeviceSighting(r.Context(), ip, r.UserAgent(), m.now())
	if err != nil {
		m.logger.Error("known_device_register_failed", "ip", ip, "error", err)
		return
	}
	if !isNew {
		return
	}

	whitelisted, err := m.store.IsWhitelisted(r.Context(), ip)
	if err != nil {
		m.logger.Error("whitelist_lookup_failed", "ip", ip, "error", err)
	}
	if whitelisted {
		m.logger.Info("whitelisted_device_seen", "ip", ip, "path", r.URL.Path)
		return
	}

	m.logger.Warn("new_device_detected", "ip", ip, "path", r.URL.Path)
	body := fmt.Sprintf("NEW DEVICE DETECTED!\n\nIP: %s\nPath: %s\nUser-Agent: %s\nTime: %s",
		ip, r.URL.RequestURI(), orUnknown(r.UserAgent()), m.now().Format(time.RFC1123))
	m.notifier.Notify(r.Context(), newDeviceKey(ip), notify.NewDevice, body)
}

func newDeviceKey(ip string) string { return "new_device:" + ip }

// clientIP strips the port chi's RealIP may have left on RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func isPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified())
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

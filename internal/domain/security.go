package domain

import "time"

type AccessLogEntry struct {
	IPAddress        string    `json:"ip_address"`
	Path             string    `json:"path"`
	Method           string    `json:"method"`
	UserAgent        string    `json:"user_agent,omitempty"`
	Referer          string    `json:"referer,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ResponseStatus   int       `json:"response_status"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

type AccessLogFilter struct {
	IP     string
	Path   string
	Method string
	Limit  int
	Offset int
}

type BlacklistEntry struct {
	IPAddress     string    `json:"ip_address"`
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	BlacklistedBy string    `json:"blacklisted_by"`
}

// KnownDevice is the sighting history of one client IP, annotated with its
// whitelist and blacklist status when listed.
type KnownDevice struct {
	IPAddress       string    `json:"ip_address"`
	UserAgent       string    `json:"user_agent,omitempty"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	RequestCount    int64     `json:"request_count"`
	Whitelisted     bool      `json:"is_whitelisted"`
	Blacklisted     bool      `json:"is_blacklisted"`
	BlacklistReason string    `json:"blacklist_reason,omitempty"`
}

// AccessLogStats aggregates the access log per client IP.
type AccessLogStats struct {
	IPAddress           string    `json:"ip_address"`
	RequestCount        int64     `json:"request_count"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
	AvgProcessingTimeMS float64   `json:"avg_processing_time_ms"`
}

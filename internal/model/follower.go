package model

import (
	"time"

	"dbprov/internal/dburl"
)

// Follower is a provisioned per-worker database as recorded in the registry.
// URLs are stored redacted; the password is never persisted.
type Follower struct {
	ID          string    `json:"id"`
	Ident       string    `json:"ident"`
	Backend     string    `json:"backend"`
	HostKey     string    `json:"host_key"`
	MainURL     string    `json:"main_url"`
	FollowerURL string    `json:"follower_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// URLInfo describes a parsed connection URL.
type URLInfo struct {
	URL       string           `json:"url"`
	Backend   string           `json:"backend"`
	Driver    string           `json:"driver"`
	Username  string           `json:"username,omitempty"`
	Database  string           `json:"database,omitempty"`
	Endpoints []dburl.HostPort `json:"endpoints"`
	HostKey   string           `json:"host_key"`
	DSN       string           `json:"dsn,omitempty"`
}

// CheckResult reports a successful connectivity check.
type CheckResult struct {
	URL       string `json:"url"`
	Ident     string `json:"ident,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

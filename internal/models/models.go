package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the wire format for every timestamp the hub emits or accepts.
// All times are UTC.
const TimeLayout = "2006-01-02 15:04:05"

// ParseError reports a field of an upstream payload that could not be decoded.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, &ParseError{Field: "timestamp", Err: err}
	}
	return t, nil
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type ServerIdentity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Platform string `json:"platform"`
	Version  string `json:"version,omitempty"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
	Notes    string `json:"notes,omitempty"`
}

type Subscription struct {
	ID       int64    `json:"id"`
	UserID   int64    `json:"user_id"`
	ServerID int64    `json:"server_id"`
	Tags     []string `json:"tags,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// MetricSample is one timestamped snapshot of a server's resource state as it
// arrives from the hub. The metric sections are kept raw: the REST API emits
// them as nested objects while the push channel forwards raw storage rows in
// which the same sections are JSON-encoded strings. Decoding is deferred to
// the normalizer, which accepts both shapes.
type MetricSample struct {
	ID        int64           `json:"id,omitempty"`
	ServerID  int64           `json:"server_id"`
	Timestamp string          `json:"timestamp"`
	CPU       json.RawMessage `json:"cpu_info,omitempty"`
	Memory    json.RawMessage `json:"memory_info,omitempty"`
	Disk      json.RawMessage `json:"disk_info,omitempty"`
	Network   json.RawMessage `json:"network_info,omitempty"`
	BootTime  string          `json:"boot_time,omitempty"`
	Processes json.RawMessage `json:"processes,omitempty"`
}

// Time parses the sample's timestamp, which doubles as half of its identity
// key (server_id, timestamp).
func (s MetricSample) Time() (time.Time, error) {
	return ParseTimestamp(s.Timestamp)
}

type CPUStats struct {
	PhysicalCores int     `json:"physical_cores"`
	LogicalCores  int     `json:"logical_cores"`
	PercentUsage  float64 `json:"percent_usage"`
}

type MemoryStats struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

type DiskStats struct {
	Device     string  `json:"device,omitempty"`
	Mountpoint string  `json:"mountpoint"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free,omitempty"`
	Percent    float64 `json:"percent"`
}

type AddressInfo struct {
	IP        string `json:"ip"`
	Netmask   string `json:"netmask,omitempty"`
	Broadcast string `json:"broadcast,omitempty"`
}

// IOStats carries per-interface throughput. Speeds are bytes per second,
// totals are cumulative byte counters since boot.
type IOStats struct {
	UploadSpeed   float64 `json:"upload_speed"`
	DownloadSpeed float64 `json:"download_speed"`
	TotalUpload   float64 `json:"total_upload"`
	TotalDownload float64 `json:"total_download"`
}

type InterfaceStats struct {
	Addresses []AddressInfo `json:"addresses"`
	IO        *IOStats      `json:"io_stats,omitempty"`
}

// NetworkTotals is the loopback-excluded sum across a sample's interfaces.
type NetworkTotals struct {
	UploadSpeed   float64 `json:"upload_speed"`
	DownloadSpeed float64 `json:"download_speed"`
	TotalUpload   float64 `json:"total_upload"`
	TotalDownload float64 `json:"total_download"`
}

// NormalizedSample is the canonical record every consumer reads. Malformed
// lists the sections of the raw payload that failed to decode and were
// substituted with zero values.
type NormalizedSample struct {
	ServerID  int64
	Time      time.Time
	CPU       CPUStats
	Memory    MemoryStats
	Disk      DiskStats
	Network   NetworkTotals
	Interface string
	Malformed []string
}

// AgentReport is the payload a host agent uploads on every sampling tick.
// Timestamp is the agent's sampling instant; the hub falls back to its own
// clock when it is absent or unparseable.
type AgentReport struct {
	Hostname  string                    `json:"hostname"`
	Timestamp string                    `json:"timestamp,omitempty"`
	Platform  string                    `json:"platform"`
	Version   string                    `json:"version"`
	BootTime  string                    `json:"boot_time"`
	CPU       CPUStats                  `json:"cpu_info"`
	Memory    MemoryStats               `json:"memory_info"`
	Disks     []DiskStats               `json:"disk_info"`
	Network   map[string]InterfaceStats `json:"network_info"`
}

type MetricAlert struct {
	Alert        bool    `json:"alert"`
	CurrentValue float64 `json:"current_value"`
	Threshold    float64 `json:"threshold"`
}

type NetworkAlert struct {
	UploadAlert       bool    `json:"upload_alert"`
	DownloadAlert     bool    `json:"download_alert"`
	CurrentUpload     float64 `json:"current_upload"`
	CurrentDownload   float64 `json:"current_download"`
	UploadThreshold   float64 `json:"upload_threshold"`
	DownloadThreshold float64 `json:"download_threshold"`
}

// Flag is a bool that also accepts the 0/1 integers sqlite-backed APIs emit.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("flag: cannot decode %q", data)
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// AlertRecord is the hub's threshold-check result for one sample. Severity is
// never stored on it; classification re-derives it on every read.
type AlertRecord struct {
	ID        int64        `json:"id"`
	ServerID  int64        `json:"server_id"`
	Timestamp string       `json:"timestamp"`
	CPU       MetricAlert  `json:"cpu_alert"`
	Memory    MetricAlert  `json:"memory_alert"`
	Disk      MetricAlert  `json:"disk_alert"`
	Network   NetworkAlert `json:"network_alert"`
	IsValid   Flag         `json:"is_valid_alert"`
}

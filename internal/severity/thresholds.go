package severity

import (
	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/normalize"
)

// Thresholds holds the per-metric alert limits the hub evaluates samples
// against. Percent limits apply to cpu, memory and disk utilization; the
// network limits are bytes per second.
type Thresholds struct {
	CPUPercent    float64 `yaml:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent"`
	DiskPercent   float64 `yaml:"disk_percent"`
	UploadBytes   float64 `yaml:"upload_bytes"`
	DownloadBytes float64 `yaml:"download_bytes"`
}

// DefaultThresholds matches the hub's shipped configuration: 80% utilization
// limits and 1 GiB/s network limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    80,
		MemoryPercent: 80,
		DiskPercent:   80,
		UploadBytes:   1 << 30,
		DownloadBytes: 1 << 30,
	}
}

// Evaluate runs the threshold check for one normalized sample and produces the
// alert record the hub stores. The record is marked valid only when every
// metric section of the source sample decoded cleanly; a record built from a
// partially-defaulted sample is kept for audit but floored to low severity.
func Evaluate(n models.NormalizedSample, th Thresholds) models.AlertRecord {
	return models.AlertRecord{
		ServerID:  n.ServerID,
		Timestamp: models.FormatTimestamp(n.Time),
		CPU: models.MetricAlert{
			Alert:        n.CPU.PercentUsage > th.CPUPercent,
			CurrentValue: n.CPU.PercentUsage,
			Threshold:    th.CPUPercent,
		},
		Memory: models.MetricAlert{
			Alert:        n.Memory.Percent > th.MemoryPercent,
			CurrentValue: n.Memory.Percent,
			Threshold:    th.MemoryPercent,
		},
		Disk: models.MetricAlert{
			Alert:        n.Disk.Percent > th.DiskPercent,
			CurrentValue: n.Disk.Percent,
			Threshold:    th.DiskPercent,
		},
		Network: models.NetworkAlert{
			UploadAlert:       n.Network.UploadSpeed > th.UploadBytes,
			DownloadAlert:     n.Network.DownloadSpeed > th.DownloadBytes,
			CurrentUpload:     n.Network.UploadSpeed,
			CurrentDownload:   n.Network.DownloadSpeed,
			UploadThreshold:   th.UploadBytes,
			DownloadThreshold: th.DownloadBytes,
		},
		IsValid: models.Flag(normalize.Complete(n)),
	}
}

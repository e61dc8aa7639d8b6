package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fleetpulse/core/internal/models"
)

const loopbackAddr = "127.0.0.1"

// section decodes one metric section of a raw sample. Sections arrive either
// as nested JSON objects (REST responses) or as JSON-encoded strings (raw
// storage rows forwarded on the push channel); both are accepted.
func section(raw json.RawMessage, field string, v interface{}) error {
	if len(raw) == 0 {
		return &models.ParseError{Field: field, Err: fmt.Errorf("missing")}
	}

	data := bytes.TrimSpace(raw)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return &models.ParseError{Field: field, Err: err}
		}
		data = []byte(inner)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return &models.ParseError{Field: field, Err: err}
	}
	return nil
}

// CPU extracts cpu_info, substituting zero usage on failure.
func CPU(raw json.RawMessage) (models.CPUStats, error) {
	var stats models.CPUStats
	if err := section(raw, "cpu_info", &stats); err != nil {
		return models.CPUStats{}, err
	}
	return stats, nil
}

// Memory extracts memory_info, substituting zero values on failure.
func Memory(raw json.RawMessage) (models.MemoryStats, error) {
	var stats models.MemoryStats
	if err := section(raw, "memory_info", &stats); err != nil {
		return models.MemoryStats{}, err
	}
	return stats, nil
}

// Disk extracts disk_info and selects the root partition. Without a "/"
// mountpoint the first entry is used; without any entries a zeroed root
// record is returned.
func Disk(raw json.RawMessage) (models.DiskStats, error) {
	var disks []models.DiskStats
	if err := section(raw, "disk_info", &disks); err != nil {
		return models.DiskStats{Mountpoint: "/"}, err
	}
	return SelectRootDisk(disks), nil
}

func SelectRootDisk(disks []models.DiskStats) models.DiskStats {
	for _, d := range disks {
		if d.Mountpoint == "/" {
			return d
		}
	}
	if len(disks) > 0 {
		return disks[0]
	}
	return models.DiskStats{Mountpoint: "/"}
}

// Network extracts network_info and aggregates it across interfaces. The
// second return value is the primary interface name: the first interface
// (in name order, for determinism) carrying a non-loopback address, else
// the first interface at all.
func Network(raw json.RawMessage) (models.NetworkTotals, string, error) {
	var ifaces map[string]models.InterfaceStats
	if err := section(raw, "network_info", &ifaces); err != nil {
		return models.NetworkTotals{}, "", err
	}
	return AggregateNetwork(ifaces), PrimaryInterface(ifaces), nil
}

// AggregateNetwork sums throughput and cumulative counters across all
// interfaces except loopback. An interface is loopback when its address list
// contains 127.0.0.1; such interfaces contribute nothing regardless of their
// io_stats. Interfaces without io_stats contribute zero.
func AggregateNetwork(ifaces map[string]models.InterfaceStats) models.NetworkTotals {
	var totals models.NetworkTotals
	for _, iface := range ifaces {
		if isLoopback(iface) {
			continue
		}
		if iface.IO == nil {
			continue
		}
		totals.UploadSpeed += iface.IO.UploadSpeed
		totals.DownloadSpeed += iface.IO.DownloadSpeed
		totals.TotalUpload += iface.IO.TotalUpload
		totals.TotalDownload += iface.IO.TotalDownload
	}
	return totals
}

func PrimaryInterface(ifaces map[string]models.InterfaceStats) string {
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		iface := ifaces[name]
		if isLoopback(iface) {
			continue
		}
		for _, addr := range iface.Addresses {
			if addr.IP != "" {
				return name
			}
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func isLoopback(iface models.InterfaceStats) bool {
	for _, addr := range iface.Addresses {
		if addr.IP == loopbackAddr {
			return true
		}
	}
	return false
}

// Sample produces the canonical record for one raw sample. A section that is
// absent or fails to decode is replaced with zero values and listed in
// Malformed; a corrupt field never discards the sample. An unparseable
// timestamp leaves Time at its zero value.
func Sample(s models.MetricSample) models.NormalizedSample {
	n := models.NormalizedSample{ServerID: s.ServerID}

	if t, err := s.Time(); err == nil {
		n.Time = t
	} else {
		n.Malformed = append(n.Malformed, "timestamp")
	}

	var err error
	if n.CPU, err = CPU(s.CPU); err != nil {
		n.Malformed = append(n.Malformed, "cpu_info")
	}
	if n.Memory, err = Memory(s.Memory); err != nil {
		n.Malformed = append(n.Malformed, "memory_info")
	}
	if n.Disk, err = Disk(s.Disk); err != nil {
		n.Malformed = append(n.Malformed, "disk_info")
	}
	if n.Network, n.Interface, err = Network(s.Network); err != nil {
		n.Malformed = append(n.Malformed, "network_info")
	}
	return n
}

// Complete reports whether every metric section of the sample decoded
// cleanly. The hub uses this to set is_valid_alert on derived alert records.
func Complete(n models.NormalizedSample) bool {
	return len(n.Malformed) == 0
}

package agent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/fleetpulse/core/internal/models"
)

const agentVersion = "1.0.0"

// Collector samples the local host into the report shape the hub ingests.
// Interface speeds are derived from successive io counter deltas, so the
// first report carries zero speeds.
type Collector struct {
	hostname string

	mu         sync.Mutex
	lastSample time.Time
	lastIO     map[string]gopsnet.IOCountersStat
}

func NewCollector(hostname string) (*Collector, error) {
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("get hostname: %w", err)
		}
	}
	return &Collector{hostname: hostname}, nil
}

func (c *Collector) Collect() (models.AgentReport, error) {
	report := models.AgentReport{
		Hostname:  c.hostname,
		Timestamp: models.FormatTimestamp(time.Now()),
		Version:   agentVersion,
	}

	info, err := host.Info()
	if err != nil {
		return report, fmt.Errorf("get host info: %w", err)
	}
	report.Platform = info.Platform
	report.BootTime = models.FormatTimestamp(time.Unix(int64(info.BootTime), 0))

	cpuStats, err := c.collectCPU()
	if err != nil {
		return report, err
	}
	report.CPU = cpuStats

	memStats, err := collectMemory()
	if err != nil {
		return report, err
	}
	report.Memory = memStats

	diskStats, err := collectDisks()
	if err != nil {
		return report, err
	}
	report.Disks = diskStats

	network, err := c.collectNetwork()
	if err != nil {
		return report, err
	}
	report.Network = network

	return report, nil
}

func (c *Collector) collectCPU() (models.CPUStats, error) {
	physical, err := cpu.Counts(false)
	if err != nil {
		return models.CPUStats{}, fmt.Errorf("get physical cores: %w", err)
	}
	logical, err := cpu.Counts(true)
	if err != nil {
		return models.CPUStats{}, fmt.Errorf("get logical cores: %w", err)
	}
	percent, err := cpu.Percent(time.Second, false)
	if err != nil {
		return models.CPUStats{}, fmt.Errorf("get cpu percent: %w", err)
	}

	pct := 0.0
	if len(percent) > 0 {
		pct = percent[0]
	}
	return models.CPUStats{
		PhysicalCores: physical,
		LogicalCores:  logical,
		PercentUsage:  pct,
	}, nil
}

func collectMemory() (models.MemoryStats, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return models.MemoryStats{}, fmt.Errorf("get memory info: %w", err)
	}
	return models.MemoryStats{
		Total:     vm.Total,
		Available: vm.Available,
		Used:      vm.Used,
		Percent:   vm.UsedPercent,
	}, nil
}

func collectDisks() ([]models.DiskStats, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("get partitions: %w", err)
	}

	var disks []models.DiskStats
	for _, p := range partitions {
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			continue
		}
		disks = append(disks, models.DiskStats{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Total:      usage.Total,
			Used:       usage.Used,
			Free:       usage.Free,
			Percent:    usage.UsedPercent,
		})
	}
	return disks, nil
}

func (c *Collector) collectNetwork() (map[string]models.InterfaceStats, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("get interfaces: %w", err)
	}
	counters, err := gopsnet.IOCounters(true)
	if err != nil {
		return nil, fmt.Errorf("get io counters: %w", err)
	}

	now := time.Now()
	byName := make(map[string]gopsnet.IOCountersStat, len(counters))
	for _, counter := range counters {
		byName[counter.Name] = counter
	}

	c.mu.Lock()
	elapsed := now.Sub(c.lastSample).Seconds()
	prev := c.lastIO
	c.lastSample = now
	c.lastIO = byName
	c.mu.Unlock()

	network := make(map[string]models.InterfaceStats, len(ifaces))
	for _, iface := range ifaces {
		stats := models.InterfaceStats{}
		for _, addr := range iface.Addrs {
			stats.Addresses = append(stats.Addresses, models.AddressInfo{IP: stripCIDR(addr.Addr)})
		}

		counter, ok := byName[iface.Name]
		if ok {
			io := &models.IOStats{
				TotalUpload:   float64(counter.BytesSent),
				TotalDownload: float64(counter.BytesRecv),
			}
			if last, seen := prev[iface.Name]; seen && elapsed > 0 {
				io.UploadSpeed = counterSpeed(counter.BytesSent, last.BytesSent, elapsed)
				io.DownloadSpeed = counterSpeed(counter.BytesRecv, last.BytesRecv, elapsed)
			}
			stats.IO = io
		}
		network[iface.Name] = stats
	}
	return network, nil
}

// counterSpeed derives bytes per second from two cumulative counter readings.
// A counter that went backwards was reset (interface bounce, driver reload);
// the unsigned subtraction would wrap, so that tick reports zero instead.
func counterSpeed(cur, last uint64, elapsed float64) float64 {
	if cur < last {
		return 0
	}
	return float64(cur-last) / elapsed
}

func stripCIDR(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			return addr[:i]
		}
	}
	return addr
}

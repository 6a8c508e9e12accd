package thermal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/tutu-network/tutu/internal/domain"
)

// SysfsProbe reads the kernel's thermal_zone sysfs tree (Linux).
// Grounded on the teacher's resource.readCPUTemp sysfs read.
type SysfsProbe struct {
	ZonePath string // default /sys/class/thermal/thermal_zone0/temp
}

// NewSysfsProbe returns a probe reading the default zone 0 path.
func NewSysfsProbe() *SysfsProbe {
	return &SysfsProbe{ZonePath: "/sys/class/thermal/thermal_zone0/temp"}
}

func (p *SysfsProbe) Name() string { return "sysfs" }

func (p *SysfsProbe) Sample(ctx context.Context) (domain.ThermalReading, error) {
	data, err := os.ReadFile(p.ZonePath)
	if err != nil {
		return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("sysfs: %w", err)
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("sysfs: parse %q: %w", p.ZonePath, err)
	}
	t := float64(milliC) / 1000.0
	return domain.ThermalReading{
		TemperatureC: &t,
		Source:       p.Name(),
		Detail:       map[string]string{"zone": p.ZonePath},
	}, nil
}

// VendorCLIProbe shells out to a vendor-provided power-monitor CLI and
// parses a single numeric Celsius value from its stdout. Grounded on the
// sysfs-zone-by-name lookup idiom in the pack's edge-FaaS thermalwatch
// command, adapted to an external CLI rather than a raw sysfs path.
type VendorCLIProbe struct {
	Command string
	Args    []string
}

// NewVendorCLIProbe builds a probe that runs cmd with args and parses its
// trimmed stdout as a float Celsius reading.
func NewVendorCLIProbe(cmd string, args ...string) *VendorCLIProbe {
	return &VendorCLIProbe{Command: cmd, Args: args}
}

func (p *VendorCLIProbe) Name() string { return "vendor-cli:" + p.Command }

func (p *VendorCLIProbe) Sample(ctx context.Context) (domain.ThermalReading, error) {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("vendor cli %s: %w", p.Command, err)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("vendor cli %s: parse output: %w", p.Command, err)
	}
	return domain.ThermalReading{TemperatureC: &t, Source: p.Name()}, nil
}

// GopsutilProbe uses the cross-platform gopsutil sensor library as the
// generic fallback probe, grounded on its direct use in the pack's
// go_syschecker tool.
type GopsutilProbe struct {
	SensorKey string // optional preferred sensor key; empty matches the first reading
}

func NewGopsutilProbe() *GopsutilProbe {
	return &GopsutilProbe{}
}

func (p *GopsutilProbe) Name() string { return "gopsutil" }

func (p *GopsutilProbe) Sample(ctx context.Context) (domain.ThermalReading, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("gopsutil: %w", err)
	}
	for _, s := range stats {
		if p.SensorKey != "" && s.SensorKey != p.SensorKey {
			continue
		}
		if s.Temperature <= 0 {
			continue
		}
		t := s.Temperature
		return domain.ThermalReading{
			TemperatureC: &t,
			Source:       p.Name(),
			Detail:       map[string]string{"sensor_key": s.SensorKey},
		}, nil
	}
	return domain.ThermalReading{Source: p.Name()}, fmt.Errorf("gopsutil: no usable sensor reading")
}

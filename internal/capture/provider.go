package capture

import (
	"context"

	"tt-go/internal/track"
)

// Provider is a source of device positions. Implementations wrap whatever
// the platform offers: a GPS daemon, a scripted feed, a test fake.
type Provider interface {
	// Current returns one fine-grained fix. Bounded by ctx; a timeout or
	// error counts as a failed sample.
	Current(ctx context.Context) (*track.Position, error)

	// SignificantChange blocks until the coarse, low-power provider
	// reports movement, then returns the new position. Used as an
	// independent watchdog when fine-grained sampling stalls.
	SignificantChange(ctx context.Context) (*track.Position, error)
}

// ThermalLevel mirrors the platform's thermal pressure reading.
type ThermalLevel int

const (
	ThermalNominal ThermalLevel = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

// ThermalMonitor reports the current thermal level. Under pressure the
// service widens its sampling interval rather than stopping.
type ThermalMonitor interface {
	Level() ThermalLevel
}

// NopThermal always reports nominal. Used where no platform reading exists.
type NopThermal struct{}

func (NopThermal) Level() ThermalLevel { return ThermalNominal }

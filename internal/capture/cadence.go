package capture

import "time"

// cadence computes the next sampling interval from the three adaptation
// inputs: movement mode, thermal level, and the consecutive failure streak.
// The interval only ever widens under pressure; capture never stops on its
// own.
func cadence(cfg Config, stationary bool, thermal ThermalLevel, failures int) time.Duration {
	base := cfg.ActiveInterval
	if stationary {
		base = cfg.StationaryInterval
	}

	switch thermal {
	case ThermalFair:
		base = base * 3 / 2
	case ThermalSerious:
		base = base * 2
	case ThermalCritical:
		base = base * 4
	}

	// Each consecutive failure doubles the interval, capped.
	for i := 0; i < failures && i < 5; i++ {
		base *= 2
	}
	if cfg.MaxInterval > 0 && base > cfg.MaxInterval {
		base = cfg.MaxInterval
	}
	return base
}

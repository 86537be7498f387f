package fuel

import "math"

// msPerHour converts a per-hour consumption rate to per-millisecond.
const msPerHour = 3_600_000

// DecayTankLevel returns the tank level at now given the level recorded at
// lastTimestamp and a consumption rate in units per hour. The level never
// goes below zero and a clock that runs backwards burns nothing.
func DecayTankLevel(now, lastTimestamp int64, lastLevel, consumptionRate float64) float64 {
	elapsed := now - lastTimestamp
	if elapsed <= 0 {
		return math.Max(0, lastLevel)
	}
	return math.Max(0, lastLevel-float64(elapsed)/msPerHour*consumptionRate)
}

// IsLow reports whether level sits at or under thresholdPercent of capacity.
// An empty tank is not low, it is empty.
func IsLow(level, capacity, thresholdPercent float64) bool {
	if level <= 0 || capacity <= 0 {
		return false
	}
	return level/capacity*100 <= thresholdPercent
}

func IsEmpty(level float64) bool {
	return level <= 0
}

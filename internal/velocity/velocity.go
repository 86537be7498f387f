package velocity

import "math"

// Config bounds the plane's speed. Below LowThreshold the pilot gets the
// finer SmallStep so that stall speed can be approached gently.
type Config struct {
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	LowThreshold float64 `yaml:"low_threshold"`
	SmallStep    float64 `yaml:"small_step"`
	LargeStep    float64 `yaml:"large_step"`
}

func DefaultConfig() Config {
	return Config{Min: 200, Max: 1000, LowThreshold: 300, SmallStep: 10, LargeStep: 50}
}

// Step accelerates or decelerates v by one notch and clamps to [Min, Max].
func Step(cfg Config, v float64, accelerate bool) float64 {
	if accelerate && v >= cfg.Max {
		return cfg.Max
	}
	if !accelerate && v <= cfg.Min {
		return cfg.Min
	}

	step := cfg.LargeStep
	if accelerate && v < cfg.LowThreshold || !accelerate && v <= cfg.LowThreshold {
		step = cfg.SmallStep
	}
	if !accelerate {
		step = -step
	}

	return math.Max(cfg.Min, math.Min(cfg.Max, v+step))
}

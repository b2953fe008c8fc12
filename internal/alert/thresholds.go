package alert

import "monitoring-service/internal/store"

// Documented defaults, applied per field whenever a farmer has not configured
// that bound.
const (
	DefaultTemperatureMin = 5.0
	DefaultTemperatureMax = 35.0
	DefaultMoistureMin    = 30.0
	DefaultMoistureMax    = 80.0
	DefaultHumidityMin    = 40.0
	DefaultHumidityMax    = 90.0
)

type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Thresholds is the fully resolved configuration the evaluator works with.
type Thresholds struct {
	Temperature Bounds `json:"temperature"`
	Moisture    Bounds `json:"moisture"`
	Humidity    Bounds `json:"humidity"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Temperature: Bounds{Min: DefaultTemperatureMin, Max: DefaultTemperatureMax},
		Moisture:    Bounds{Min: DefaultMoistureMin, Max: DefaultMoistureMax},
		Humidity:    Bounds{Min: DefaultHumidityMin, Max: DefaultHumidityMax},
	}
}

// Resolve default-fills a stored configuration. A nil config means the farmer
// never wrote one and yields the defaults wholesale.
func Resolve(cfg *store.ThresholdConfig) Thresholds {
	th := DefaultThresholds()
	if cfg == nil {
		return th
	}
	if cfg.TemperatureMin != nil {
		th.Temperature.Min = *cfg.TemperatureMin
	}
	if cfg.TemperatureMax != nil {
		th.Temperature.Max = *cfg.TemperatureMax
	}
	if cfg.MoistureMin != nil {
		th.Moisture.Min = *cfg.MoistureMin
	}
	if cfg.MoistureMax != nil {
		th.Moisture.Max = *cfg.MoistureMax
	}
	if cfg.HumidityMin != nil {
		th.Humidity.Min = *cfg.HumidityMin
	}
	if cfg.HumidityMax != nil {
		th.Humidity.Max = *cfg.HumidityMax
	}
	return th
}

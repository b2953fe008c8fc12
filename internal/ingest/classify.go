package ingest

import (
	"math"

	"monitoring-service/internal/store"
)

// classify decides whether the new sample is close enough to the prior
// reading to count as predicted. A metric reported on only one side fails the
// closeness check; a metric absent on both sides is skipped. With no prior
// reading, or nothing comparable at all, the sample counts as transmitted.
func classify(prev *store.Reading, s Sample) (ratio float64, predicted bool) {
	if prev == nil {
		return ratioFirstReading, false
	}

	pairs := []struct {
		prev, next *float64
		bound      float64
	}{
		{prev.Temperature, s.Temperature, maxTemperatureDelta},
		{prev.Humidity, s.Humidity, maxHumidityDelta},
		{prev.SoilMoisture, s.SoilMoisture, maxMoistureDelta},
		{prev.LightIntensity, s.LightIntensity, maxLightDelta},
	}

	compared := false
	for _, pr := range pairs {
		if pr.prev == nil && pr.next == nil {
			continue
		}
		if pr.prev == nil || pr.next == nil {
			return ratioTransmitted, false
		}
		if math.Abs(*pr.next-*pr.prev) >= pr.bound {
			return ratioTransmitted, false
		}
		compared = true
	}
	if !compared {
		return ratioTransmitted, false
	}
	return ratioPredicted, true
}

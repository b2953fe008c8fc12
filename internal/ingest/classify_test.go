package ingest

import (
	"testing"

	"monitoring-service/internal/store"
)

func f(v float64) *float64 { return &v }

func TestClassifyFirstReading(t *testing.T) {
	ratio, predicted := classify(nil, Sample{Temperature: f(99), Humidity: f(99), SoilMoisture: f(99), LightIntensity: f(9999)})
	if predicted {
		t.Fatalf("first reading must not be predicted")
	}
	if ratio != 0 {
		t.Fatalf("expected ratio 0 for first reading, got %v", ratio)
	}
}

func TestClassifyAllDeltasUnderBounds(t *testing.T) {
	prev := &store.Reading{Temperature: f(28.5), Humidity: f(65.2), SoilMoisture: f(45.8), LightIntensity: f(850.0)}
	ratio, predicted := classify(prev, Sample{Temperature: f(28.2), Humidity: f(66.1), SoilMoisture: f(44.9), LightIntensity: f(875.5)})
	if !predicted {
		t.Fatalf("expected predicted")
	}
	if ratio != 85.0 {
		t.Fatalf("expected ratio 85.0, got %v", ratio)
	}
}

func TestClassifyTemperatureDeltaTooLarge(t *testing.T) {
	prev := &store.Reading{Temperature: f(28.5), Humidity: f(65.2), SoilMoisture: f(45.8), LightIntensity: f(850.0)}
	ratio, predicted := classify(prev, Sample{Temperature: f(26.8), Humidity: f(72.3), SoilMoisture: f(55.2), LightIntensity: f(420.0)})
	if predicted {
		t.Fatalf("expected not predicted, temperature delta is 1.7")
	}
	if ratio != 65.0 {
		t.Fatalf("expected ratio 65.0, got %v", ratio)
	}
}

func TestClassifyDeltaAtBoundIsNotPredicted(t *testing.T) {
	prev := &store.Reading{Temperature: f(20.0)}
	ratio, predicted := classify(prev, Sample{Temperature: f(21.0)})
	if predicted || ratio != 65.0 {
		t.Fatalf("delta exactly at the bound must not be predicted, got %v/%v", ratio, predicted)
	}
}

func TestClassifyMetricMissingOnOneSide(t *testing.T) {
	prev := &store.Reading{Temperature: f(28.5), Humidity: f(65.2)}
	// Humidity vanished from the new sample: unknown means not predicted.
	_, predicted := classify(prev, Sample{Temperature: f(28.5)})
	if predicted {
		t.Fatalf("missing metric on one side must fail the closeness test")
	}
}

func TestClassifyMetricMissingOnBothSidesIsSkipped(t *testing.T) {
	prev := &store.Reading{Temperature: f(28.5)}
	ratio, predicted := classify(prev, Sample{Temperature: f(28.6)})
	if !predicted || ratio != 85.0 {
		t.Fatalf("metrics absent on both sides should be skipped, got %v/%v", ratio, predicted)
	}
}

func TestClassifyNothingComparable(t *testing.T) {
	prev := &store.Reading{}
	ratio, predicted := classify(prev, Sample{})
	if predicted || ratio != 65.0 {
		t.Fatalf("a sample with nothing to compare must not be predicted, got %v/%v", ratio, predicted)
	}
}

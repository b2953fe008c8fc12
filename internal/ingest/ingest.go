package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"monitoring-service/internal/metrics"
	"monitoring-service/internal/store"
)

var ErrNotATelemetryTopic = errors.New("not a telemetry topic")

// Evaluator is triggered after a reading has been durably committed.
type Evaluator interface {
	Evaluate(ctx context.Context, farmerID int64, deviceID string) ([]store.Alert, error)
}

// Ingestor adapts MQTT telemetry messages onto the pipeline. Evaluation runs
// strictly after the pipeline's write for the same submission; its failures
// never undo the committed reading.
type Ingestor struct {
	Pipeline     *Pipeline
	Evaluator    Evaluator
	TopicPrefix  string
	AllowRetains bool
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type telemetryPayload struct {
	FarmerID       int64    `json:"farmer_id"`
	Temperature    *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	SoilMoisture   *float64 `json:"soil_moisture"`
	LightIntensity *float64 `json:"light_intensity"`
}

// HandleMessage timestamps inside the pipeline's per-device critical section,
// so arrival order and stored order cannot diverge for one device.
func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("telemetry ingest ignoring retained", "topic", topic)
		return
	}

	deviceID, err := ParseDeviceID(i.TopicPrefix, topic)
	if err != nil {
		if errors.Is(err, ErrNotATelemetryTopic) {
			return
		}
		slog.Warn("telemetry topic parse failed", "topic", topic, "error", err)
		return
	}

	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}
	var sample telemetryPayload
	if err := json.Unmarshal(payload, &sample); err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("invalid_payload").Inc()
		slog.Warn("telemetry ingest invalid json", "topic", topic, "device_id", deviceID)
		return
	}

	reading, err := i.Pipeline.SubmitReading(ctx, deviceID, sample.FarmerID, Sample{
		Temperature:    sample.Temperature,
		Humidity:       sample.Humidity,
		SoilMoisture:   sample.SoilMoisture,
		LightIntensity: sample.LightIntensity,
		Raw:            payload,
	})
	if err != nil {
		slog.Error("telemetry ingest failed", "topic", topic, "device_id", deviceID, "error", err)
		return
	}

	if i.Evaluator != nil {
		if _, err := i.Evaluator.Evaluate(ctx, reading.FarmerID, deviceID); err != nil {
			slog.Error("threshold evaluation failed", "device_id", deviceID, "error", err)
		}
	}
}

func ParseDeviceID(prefix, topic string) (string, error) {
	if prefix == "" {
		prefix = "farm/telemetry/"
	}
	if !strings.HasPrefix(topic, prefix) {
		return "", ErrNotATelemetryTopic
	}
	id := strings.TrimPrefix(topic, prefix)
	id = strings.Trim(id, "/")
	if id == "" {
		return "", errors.New("empty device id")
	}
	return id, nil
}

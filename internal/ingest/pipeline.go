package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monitoring-service/internal/events"
	"monitoring-service/internal/metrics"
	"monitoring-service/internal/store"
)

// Closeness bounds for the prediction check. A new sample whose deltas against
// the previous reading all stay under these is considered predicted and skips
// full transmission accounting.
const (
	maxTemperatureDelta = 1.0
	maxHumidityDelta    = 2.0
	maxMoistureDelta    = 1.5
	maxLightDelta       = 50.0

	ratioFirstReading = 0.0
	ratioPredicted    = 85.0
	ratioTransmitted  = 65.0
)

// Sample is one raw submission from a device. Nil metric values mean the
// device did not report that metric.
type Sample struct {
	Temperature    *float64
	Humidity       *float64
	SoilMoisture   *float64
	LightIntensity *float64
	Raw            []byte
}

// Pipeline classifies and persists readings. Submissions for the same device
// are serialized so classification always sees the true prior reading;
// distinct devices proceed in parallel.
type Pipeline struct {
	Repo         *store.Repo
	Hub          *events.Hub
	StoreTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*deviceLock
}

// deviceLock is reference counted so the map entry can be dropped once no
// submission holds or waits on it. The map stays bounded by concurrent
// submissions rather than by every device id ever seen.
type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func NewPipeline(repo *store.Repo, hub *events.Hub, storeTimeout time.Duration) *Pipeline {
	return &Pipeline{
		Repo:         repo,
		Hub:          hub,
		StoreTimeout: storeTimeout,
		locks:        map[string]*deviceLock{},
	}
}

func (p *Pipeline) lockDevice(deviceID string) *deviceLock {
	p.mu.Lock()
	l, ok := p.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		p.locks[deviceID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return l
}

func (p *Pipeline) unlockDevice(deviceID string, l *deviceLock) {
	l.mu.Unlock()

	p.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, deviceID)
	}
	p.mu.Unlock()
}

func (p *Pipeline) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.StoreTimeout)
}

// SubmitReading runs the full ingest sequence: validate the device, classify
// against the latest stored reading, persist, and move the device's liveness
// forward. The returned reading carries the computed classification.
func (p *Pipeline) SubmitReading(ctx context.Context, deviceID string, farmerID int64, s Sample) (*store.Reading, error) {
	start := time.Now()

	l := p.lockDevice(deviceID)
	defer p.unlockDevice(deviceID, l)

	opCtx, cancel := p.opCtx(ctx)
	dev, err := p.Repo.GetDevice(opCtx, deviceID)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.ReadingsRejectedTotal.WithLabelValues("unknown_device").Inc()
		}
		return nil, err
	}
	if dev.FarmerID != farmerID {
		metrics.ReadingsRejectedTotal.WithLabelValues("unknown_device").Inc()
		return nil, fmt.Errorf("device %s does not belong to farmer %d: %w", deviceID, farmerID, store.ErrNotFound)
	}

	opCtx, cancel = p.opCtx(ctx)
	prev, err := p.Repo.LatestReading(opCtx, deviceID)
	cancel()
	if err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}

	ratio, predicted := classify(prev, s)

	now := time.Now().UTC()
	reading := &store.Reading{
		DeviceID:         deviceID,
		FarmerID:         farmerID,
		Timestamp:        now,
		Temperature:      s.Temperature,
		Humidity:         s.Humidity,
		SoilMoisture:     s.SoilMoisture,
		LightIntensity:   s.LightIntensity,
		CompressionRatio: ratio,
		IsPredicted:      predicted,
	}
	if len(s.Raw) > 0 {
		reading.Payload = append([]byte(nil), s.Raw...)
	}

	opCtx, cancel = p.opCtx(ctx)
	err = p.Repo.InsertReading(opCtx, reading)
	cancel()
	if err != nil {
		metrics.ReadingsRejectedTotal.WithLabelValues("store_error").Inc()
		return nil, err
	}

	// The reading is committed at this point. A failed touch leaves last_seen
	// stale until the next successful ingest, which is tolerated.
	opCtx, cancel = p.opCtx(ctx)
	if err := p.Repo.TouchDevice(opCtx, deviceID, now); err != nil {
		slog.Warn("device touch failed", "device_id", deviceID, "error", err)
	}
	cancel()

	metrics.ReadingsIngestedTotal.WithLabelValues(classificationLabel(prev, predicted)).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if p.Hub != nil {
		p.Hub.Publish(events.Event{
			Type:             "reading",
			DeviceID:         deviceID,
			FarmerID:         farmerID,
			Temperature:      s.Temperature,
			Humidity:         s.Humidity,
			SoilMoisture:     s.SoilMoisture,
			LightIntensity:   s.LightIntensity,
			CompressionRatio: ratio,
			IsPredicted:      predicted,
		})
	}

	slog.Debug("reading stored", "device_id", deviceID, "predicted", predicted, "compression_ratio", ratio)
	return reading, nil
}

func classificationLabel(prev *store.Reading, predicted bool) string {
	switch {
	case prev == nil:
		return "first"
	case predicted:
		return "predicted"
	default:
		return "transmitted"
	}
}

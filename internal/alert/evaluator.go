package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monitoring-service/internal/events"
	"monitoring-service/internal/metrics"
	"monitoring-service/internal/store"
)

// Notifier is the external dispatch boundary. Its outcome only affects the
// notification_sent flag, never the alert's existence.
type Notifier interface {
	Notify(ctx context.Context, a store.Alert) error
}

// Evaluator checks the latest reading for a device against the farmer's
// thresholds and raises alerts for breaches. At most one unresolved alert per
// (device, alert_type) exists at a time; further breaches of the same kind are
// suppressed until the open alert is resolved.
type Evaluator struct {
	Repo         *store.Repo
	Notifier     Notifier
	Hub          *events.Hub
	StoreTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*deviceLock
}

// deviceLock is reference counted so the map entry can be dropped once no
// evaluation holds or waits on it.
type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func (e *Evaluator) lockDevice(deviceID string) *deviceLock {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = map[string]*deviceLock{}
	}
	l, ok := e.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		e.locks[deviceID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return l
}

func (e *Evaluator) unlockDevice(deviceID string, l *deviceLock) {
	l.mu.Unlock()

	e.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.locks, deviceID)
	}
	e.mu.Unlock()
}

func (e *Evaluator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.StoreTimeout)
}

// Evaluate returns the alerts it created, which may be empty. A device with
// no readings evaluates to nothing.
func (e *Evaluator) Evaluate(ctx context.Context, farmerID int64, deviceID string) ([]store.Alert, error) {
	opCtx, cancel := e.opCtx(ctx)
	reading, err := e.Repo.LatestReading(opCtx, deviceID)
	cancel()
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, nil
	}

	opCtx, cancel = e.opCtx(ctx)
	cfg, err := e.Repo.GetThresholds(opCtx, farmerID)
	cancel()
	if err != nil {
		return nil, err
	}
	th := Resolve(cfg)

	var created []store.Alert
	for _, b := range breaches(reading, th) {
		a := store.Alert{
			FarmerID:       farmerID,
			DeviceID:       deviceID,
			AlertType:      b.alertType,
			Severity:       b.severity,
			Title:          b.title,
			Message:        b.message,
			ThresholdValue: b.threshold,
			CurrentValue:   b.current,
		}
		ok, err := e.raise(ctx, &a)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, a)
		}
	}
	return created, nil
}

// raise persists the alert unless an unresolved one of the same kind is
// already open for the device, then dispatches the notification.
func (e *Evaluator) raise(ctx context.Context, a *store.Alert) (bool, error) {
	created, err := e.persistUnlessOpen(ctx, a)
	if err != nil || !created {
		return created, err
	}
	metrics.AlertsCreatedTotal.WithLabelValues(string(a.AlertType), string(a.Severity)).Inc()
	slog.Info("alert created", "device_id", a.DeviceID, "alert_type", a.AlertType, "severity", a.Severity, "current", a.CurrentValue)

	e.dispatch(ctx, a)

	if e.Hub != nil {
		e.Hub.Publish(events.Event{
			Type:      "alert",
			DeviceID:  a.DeviceID,
			FarmerID:  a.FarmerID,
			AlertType: string(a.AlertType),
			Severity:  string(a.Severity),
			Message:   a.Message,
		})
	}
	return true, nil
}

// persistUnlessOpen runs the open-alert check and the insert under a
// per-device lock, so concurrent evaluations for one device cannot both pass
// the check and insert duplicates.
func (e *Evaluator) persistUnlessOpen(ctx context.Context, a *store.Alert) (bool, error) {
	l := e.lockDevice(a.DeviceID)
	defer e.unlockDevice(a.DeviceID, l)

	opCtx, cancel := e.opCtx(ctx)
	open, err := e.Repo.HasUnresolvedAlert(opCtx, a.DeviceID, a.AlertType)
	cancel()
	if err != nil {
		return false, err
	}
	if open {
		metrics.AlertsSuppressedTotal.WithLabelValues(string(a.AlertType)).Inc()
		slog.Debug("alert suppressed, unresolved one open", "device_id", a.DeviceID, "alert_type", a.AlertType)
		return false, nil
	}

	opCtx, cancel = e.opCtx(ctx)
	err = e.Repo.CreateAlert(opCtx, a)
	cancel()
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Evaluator) dispatch(ctx context.Context, a *store.Alert) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, *a); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		slog.Warn("notification dispatch failed", "alert_id", a.ID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()

	opCtx, cancel := e.opCtx(ctx)
	defer cancel()
	if err := e.Repo.MarkNotificationSent(opCtx, a.ID); err != nil {
		slog.Warn("notification flag update failed", "alert_id", a.ID, "error", err)
		return
	}
	a.NotificationSent = true
}

type breach struct {
	alertType store.AlertType
	severity  store.Severity
	title     string
	message   string
	threshold float64
	current   float64
}

// breaches compares one reading against resolved thresholds. Metrics the
// reading does not carry are skipped. Moisture breaches are treated as more
// urgent than the others.
func breaches(r *store.Reading, th Thresholds) []breach {
	var out []breach

	if r.Temperature != nil {
		t := *r.Temperature
		switch {
		case t < th.Temperature.Min:
			out = append(out, breach{
				alertType: store.AlertTemperatureLow,
				severity:  store.SeverityWarning,
				title:     "Low Temperature Alert",
				message:   fmt.Sprintf("Temperature dropped to %g°C, below minimum threshold of %g°C", t, th.Temperature.Min),
				threshold: th.Temperature.Min,
				current:   t,
			})
		case t > th.Temperature.Max:
			out = append(out, breach{
				alertType: store.AlertTemperatureHigh,
				severity:  store.SeverityWarning,
				title:     "High Temperature Alert",
				message:   fmt.Sprintf("Temperature rose to %g°C, above maximum threshold of %g°C", t, th.Temperature.Max),
				threshold: th.Temperature.Max,
				current:   t,
			})
		}
	}

	if r.SoilMoisture != nil {
		m := *r.SoilMoisture
		switch {
		case m < th.Moisture.Min:
			out = append(out, breach{
				alertType: store.AlertMoistureLow,
				severity:  store.SeverityCritical,
				title:     "Low Soil Moisture Alert",
				message:   fmt.Sprintf("Soil moisture at %g%%, below minimum threshold of %g%%. Irrigation recommended.", m, th.Moisture.Min),
				threshold: th.Moisture.Min,
				current:   m,
			})
		case m > th.Moisture.Max:
			out = append(out, breach{
				alertType: store.AlertMoistureHigh,
				severity:  store.SeverityCritical,
				title:     "High Soil Moisture Alert",
				message:   fmt.Sprintf("Soil moisture at %g%%, above maximum threshold of %g%%. Check drainage.", m, th.Moisture.Max),
				threshold: th.Moisture.Max,
				current:   m,
			})
		}
	}

	if r.Humidity != nil {
		h := *r.Humidity
		switch {
		case h < th.Humidity.Min:
			out = append(out, breach{
				alertType: store.AlertHumidityLow,
				severity:  store.SeverityWarning,
				title:     "Low Humidity Alert",
				message:   fmt.Sprintf("Humidity at %g%%, below minimum threshold of %g%%", h, th.Humidity.Min),
				threshold: th.Humidity.Min,
				current:   h,
			})
		case h > th.Humidity.Max:
			out = append(out, breach{
				alertType: store.AlertHumidityHigh,
				severity:  store.SeverityWarning,
				title:     "High Humidity Alert",
				message:   fmt.Sprintf("Humidity at %g%%, above maximum threshold of %g%%", h, th.Humidity.Max),
				threshold: th.Humidity.Max,
				current:   h,
			})
		}
	}

	return out
}

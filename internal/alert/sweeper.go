package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"monitoring-service/internal/metrics"
	"monitoring-service/internal/store"
)

// Sweeper marks devices offline when their last_seen falls behind the cutoff
// and raises a device_offline alert through the regular alert path, so the
// one-unresolved-per-kind suppression applies to it too.
type Sweeper struct {
	Repo         *store.Repo
	Evaluator    *Evaluator
	OfflineAfter time.Duration
}

func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.OfflineAfter)
	stale, err := s.Repo.StaleDevices(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, d := range stale {
		if err := s.Repo.MarkDeviceOffline(ctx, d.DeviceID); err != nil {
			slog.Warn("offline mark failed", "device_id", d.DeviceID, "error", err)
			continue
		}
		metrics.DevicesMarkedOffline.Inc()

		silent := time.Since(d.LastSeen)
		a := store.Alert{
			FarmerID:       d.FarmerID,
			DeviceID:       d.DeviceID,
			AlertType:      store.AlertDeviceOffline,
			Severity:       store.SeverityWarning,
			Title:          "Device Offline Alert",
			Message:        fmt.Sprintf("Device %s has not reported for %s (last seen %s)", d.DeviceID, silent.Round(time.Minute), d.LastSeen.UTC().Format(time.RFC3339)),
			ThresholdValue: s.OfflineAfter.Minutes(),
			CurrentValue:   silent.Minutes(),
		}
		if _, err := s.Evaluator.raise(ctx, &a); err != nil {
			slog.Warn("offline alert failed", "device_id", d.DeviceID, "error", err)
		}
	}
	return nil
}

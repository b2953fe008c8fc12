package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"monitoring-service/internal/events"
	"monitoring-service/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openRepo(t *testing.T) *store.Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:alert_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func f(v float64) *float64 { return &v }

type fakeNotifier struct {
	mu       sync.Mutex
	notified []store.Alert
	fail     bool
}

func (n *fakeNotifier) Notify(ctx context.Context, a store.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifier down")
	}
	n.notified = append(n.notified, a)
	return nil
}

func newTestEvaluator(t *testing.T) (*Evaluator, *store.Repo, *fakeNotifier) {
	t.Helper()
	repo := openRepo(t)
	n := &fakeNotifier{}
	return &Evaluator{Repo: repo, Notifier: n, Hub: events.NewHub(), StoreTimeout: 5 * time.Second}, repo, n
}

func insertReading(t *testing.T, repo *store.Repo, deviceID string, farmerID int64, temp, moisture, humidity *float64) {
	t.Helper()
	r := &store.Reading{
		DeviceID:     deviceID,
		FarmerID:     farmerID,
		Timestamp:    time.Now().UTC(),
		Temperature:  temp,
		SoilMoisture: moisture,
		Humidity:     humidity,
	}
	if err := repo.InsertReading(context.Background(), r); err != nil {
		t.Fatalf("insert reading: %v", err)
	}
}

func TestEvaluateNoReadingIsNoop(t *testing.T) {
	e, _, _ := newTestEvaluator(t)
	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected no alerts, got %d", len(created))
	}
}

func TestEvaluateLowTemperatureDefaults(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(3), nil, nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(created))
	}
	a := created[0]
	if a.AlertType != store.AlertTemperatureLow {
		t.Fatalf("expected temperature_low, got %s", a.AlertType)
	}
	if a.Severity != store.SeverityWarning {
		t.Fatalf("expected warning, got %s", a.Severity)
	}
	if a.ThresholdValue != 5 || a.CurrentValue != 3 {
		t.Fatalf("expected threshold 5 / current 3, got %v / %v", a.ThresholdValue, a.CurrentValue)
	}
}

func TestEvaluateLowMoistureIsCritical(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	if err := repo.SaveThresholds(context.Background(), &store.ThresholdConfig{FarmerID: 1, MoistureMin: f(30)}); err != nil {
		t.Fatalf("save thresholds: %v", err)
	}
	insertReading(t, repo, "esp32-001", 1, nil, f(20), nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(created))
	}
	a := created[0]
	if a.AlertType != store.AlertMoistureLow || a.Severity != store.SeverityCritical {
		t.Fatalf("expected critical moisture_low, got %s/%s", a.AlertType, a.Severity)
	}
	if a.ThresholdValue != 30 || a.CurrentValue != 20 {
		t.Fatalf("expected threshold 30 / current 20, got %v / %v", a.ThresholdValue, a.CurrentValue)
	}
}

func TestEvaluateHighTemperatureIsWarning(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(40), nil, nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 1 || created[0].AlertType != store.AlertTemperatureHigh || created[0].Severity != store.SeverityWarning {
		t.Fatalf("expected one warning temperature_high, got %+v", created)
	}
}

func TestEvaluateInRangeReadingRaisesNothing(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(22), f(50), f(60))

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected no alerts, got %+v", created)
	}
}

func TestEvaluateMultipleBreaches(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	// Cold and dry at the same time.
	insertReading(t, repo, "esp32-001", 1, f(2), f(10), nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected two alerts, got %d", len(created))
	}
}

func TestEvaluateHumidityUsesDefaults(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, nil, nil, f(95))

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(created) != 1 || created[0].AlertType != store.AlertHumidityHigh {
		t.Fatalf("expected humidity_high, got %+v", created)
	}
	if created[0].ThresholdValue != DefaultHumidityMax {
		t.Fatalf("expected default threshold %v, got %v", DefaultHumidityMax, created[0].ThresholdValue)
	}
}

func TestEvaluateSuppressesDuplicateUnresolved(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(3), nil, nil)
	ctx := context.Background()

	first, err := e.Evaluate(ctx, 1, "esp32-001")
	if err != nil || len(first) != 1 {
		t.Fatalf("first evaluate: %v %v", first, err)
	}

	// The same breach again: still one unresolved temperature_low.
	insertReading(t, repo, "esp32-001", 1, f(2), nil, nil)
	second, err := e.Evaluate(ctx, 1, "esp32-001")
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected suppression, got %d new alerts", len(second))
	}

	// Resolving the open alert re-arms the kind.
	if err := repo.ResolveAlert(ctx, first[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	third, err := e.Evaluate(ctx, 1, "esp32-001")
	if err != nil {
		t.Fatalf("third evaluate: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("expected a fresh alert after resolve, got %d", len(third))
	}
}

// Concurrent evaluations of the same breach must not both pass the open-alert
// check: without the per-device lock, several goroutines can each see "no
// unresolved alert" and insert duplicates.
func TestEvaluateConcurrentCreatesSingleAlert(t *testing.T) {
	e, repo, _ := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(3), nil, nil)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Evaluate(ctx, 1, "esp32-001"); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	wg.Wait()

	alerts, err := repo.ListAlerts(ctx, 1, false, n+1)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
}

func TestEvaluateMarksNotificationSent(t *testing.T) {
	e, repo, n := newTestEvaluator(t)
	insertReading(t, repo, "esp32-001", 1, f(3), nil, nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil || len(created) != 1 {
		t.Fatalf("evaluate: %v %v", created, err)
	}
	if len(n.notified) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(n.notified))
	}
	got, err := repo.GetAlert(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if !got.NotificationSent {
		t.Fatalf("expected notification_sent true")
	}
}

func TestEvaluateNotifierFailureKeepsAlert(t *testing.T) {
	e, repo, n := newTestEvaluator(t)
	n.fail = true
	insertReading(t, repo, "esp32-001", 1, f(3), nil, nil)

	created, err := e.Evaluate(context.Background(), 1, "esp32-001")
	if err != nil || len(created) != 1 {
		t.Fatalf("evaluate: %v %v", created, err)
	}
	got, err := repo.GetAlert(context.Background(), created[0].ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if got.NotificationSent {
		t.Fatalf("expected notification_sent false after failed dispatch")
	}
}

func TestResolveFillsDefaultsPerField(t *testing.T) {
	th := Resolve(&store.ThresholdConfig{FarmerID: 1, TemperatureMin: f(10)})
	if th.Temperature.Min != 10 {
		t.Fatalf("expected configured temperature min 10, got %v", th.Temperature.Min)
	}
	if th.Temperature.Max != DefaultTemperatureMax {
		t.Fatalf("expected default temperature max, got %v", th.Temperature.Max)
	}
	if th.Moisture.Min != DefaultMoistureMin || th.Moisture.Max != DefaultMoistureMax {
		t.Fatalf("expected default moisture bounds, got %+v", th.Moisture)
	}
}

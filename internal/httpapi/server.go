package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"monitoring-service/internal/alert"
	"monitoring-service/internal/events"
	"monitoring-service/internal/ingest"
	"monitoring-service/internal/store"
)

type Server struct {
	repo      *store.Repo
	pipeline  *ingest.Pipeline
	evaluator *alert.Evaluator
	hub       *events.Hub
}

func New(repo *store.Repo, pipeline *ingest.Pipeline, evaluator *alert.Evaluator, hub *events.Hub) *Server {
	return &Server{repo: repo, pipeline: pipeline, evaluator: evaluator, hub: hub}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/monitoring", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/readings", s.handleSubmitReading)
		r.Get("/readings", s.handleListReadings)

		r.Get("/thresholds/{farmerID}", s.handleGetThresholds)
		r.Put("/thresholds/{farmerID}", s.handlePutThresholds)

		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts/{alertID}/read", s.handleAlertRead)
		r.Post("/alerts/{alertID}/resolve", s.handleAlertResolve)

		r.Post("/devices", s.handleCreateDevice)

		r.Get("/dashboard/{farmerID}", s.handleDashboard)

		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- readings ---

type submitReadingRequest struct {
	DeviceID       string   `json:"device_id"`
	FarmerID       int64    `json:"farmer_id"`
	Temperature    *float64 `json:"temperature"`
	Humidity       *float64 `json:"humidity"`
	SoilMoisture   *float64 `json:"soil_moisture"`
	LightIntensity *float64 `json:"light_intensity"`
}

type submitReadingResponse struct {
	ReadingID        uuid.UUID `json:"reading_id"`
	DeviceID         string    `json:"device_id"`
	Timestamp        time.Time `json:"timestamp"`
	CompressionRatio float64   `json:"compression_ratio"`
	IsPredicted      bool      `json:"is_predicted"`
	AlertsCreated    int       `json:"alerts_created"`
}

func (s *Server) handleSubmitReading(w http.ResponseWriter, r *http.Request) {
	var req submitReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	reading, err := s.pipeline.SubmitReading(r.Context(), req.DeviceID, req.FarmerID, ingest.Sample{
		Temperature:    req.Temperature,
		Humidity:       req.Humidity,
		SoilMoisture:   req.SoilMoisture,
		LightIntensity: req.LightIntensity,
	})
	if err != nil {
		writeStoreError(w, "could not store reading", err)
		return
	}

	// Evaluation runs after the committed write; its failure does not fail
	// the submission.
	created, err := s.evaluator.Evaluate(r.Context(), reading.FarmerID, reading.DeviceID)
	if err != nil {
		slog.Error("threshold evaluation failed", "device_id", reading.DeviceID, "error", err)
	}

	writeJSON(w, http.StatusOK, submitReadingResponse{
		ReadingID:        reading.ID,
		DeviceID:         reading.DeviceID,
		Timestamp:        reading.Timestamp,
		CompressionRatio: reading.CompressionRatio,
		IsPredicted:      reading.IsPredicted,
		AlertsCreated:    len(created),
	})
}

type listReadingsResponse struct {
	DeviceID   string          `json:"device_id"`
	From       *time.Time      `json:"from,omitempty"`
	To         *time.Time      `json:"to,omitempty"`
	Readings   []store.Reading `json:"readings"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := strings.TrimSpace(q.Get("device_id"))
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	from, fromPtr, err := parseTimePtr(q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, toPtr, err := parseTimePtr(q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	limit := 1000
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	desc := strings.EqualFold(strings.TrimSpace(q.Get("order")), "desc")

	cursor, err := store.DecodeCursor(q.Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}

	page, err := s.repo.ListReadings(r.Context(), deviceID, from, to, limit, cursor, desc)
	if err != nil {
		slog.Error("readings query failed", "device_id", deviceID, "error", err)
		http.Error(w, "could not query readings", http.StatusInternalServerError)
		return
	}

	resp := listReadingsResponse{DeviceID: deviceID, Readings: page.Readings, NextCursor: page.NextCursor}
	resp.From = fromPtr
	resp.To = toPtr
	writeJSON(w, http.StatusOK, resp)
}

// --- thresholds ---

// Recognized flat configuration keys; anything else in the body is ignored.
var thresholdKeys = map[string]func(cfg *store.ThresholdConfig, v float64){
	"temperature_min": func(cfg *store.ThresholdConfig, v float64) { cfg.TemperatureMin = &v },
	"temperature_max": func(cfg *store.ThresholdConfig, v float64) { cfg.TemperatureMax = &v },
	"moisture_min":    func(cfg *store.ThresholdConfig, v float64) { cfg.MoistureMin = &v },
	"moisture_max":    func(cfg *store.ThresholdConfig, v float64) { cfg.MoistureMax = &v },
	"humidity_min":    func(cfg *store.ThresholdConfig, v float64) { cfg.HumidityMin = &v },
	"humidity_max":    func(cfg *store.ThresholdConfig, v float64) { cfg.HumidityMax = &v },
}

type thresholdsResponse struct {
	FarmerID   int64            `json:"farmer_id"`
	Configured bool             `json:"configured"`
	Effective  alert.Thresholds `json:"effective"`
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := parseFarmerID(w, r)
	if !ok {
		return
	}
	cfg, err := s.repo.GetThresholds(r.Context(), farmerID)
	if err != nil {
		writeStoreError(w, "could not load thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, thresholdsResponse{
		FarmerID:   farmerID,
		Configured: cfg != nil,
		Effective:  alert.Resolve(cfg),
	})
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := parseFarmerID(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	cfg := store.ThresholdConfig{FarmerID: farmerID}
	for key, set := range thresholdKeys {
		raw, present := body[key]
		if !present {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			http.Error(w, key+" must be numeric", http.StatusBadRequest)
			return
		}
		set(&cfg, v)
	}

	if err := validateBounds(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.repo.SaveThresholds(r.Context(), &cfg); err != nil {
		writeStoreError(w, "could not save thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, thresholdsResponse{
		FarmerID:   farmerID,
		Configured: true,
		Effective:  alert.Resolve(&cfg),
	})
}

func validateBounds(cfg *store.ThresholdConfig) error {
	check := func(name string, min, max *float64) error {
		if min != nil && max != nil && *min > *max {
			return errors.New(name + "_min must not exceed " + name + "_max")
		}
		return nil
	}
	if err := check("temperature", cfg.TemperatureMin, cfg.TemperatureMax); err != nil {
		return err
	}
	if err := check("moisture", cfg.MoistureMin, cfg.MoistureMax); err != nil {
		return err
	}
	return check("humidity", cfg.HumidityMin, cfg.HumidityMax)
}

// --- alerts ---

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	farmerID, err := strconv.ParseInt(strings.TrimSpace(q.Get("farmer_id")), 10, 64)
	if err != nil {
		http.Error(w, "farmer_id is required", http.StatusBadRequest)
		return
	}
	unreadOnly := strings.EqualFold(strings.TrimSpace(q.Get("unread")), "true")
	limit := 50
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	rows, err := s.repo.ListAlerts(r.Context(), farmerID, unreadOnly, limit)
	if err != nil {
		writeStoreError(w, "could not query alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": rows})
}

func (s *Server) handleAlertRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}
	if err := s.repo.MarkAlertRead(r.Context(), id); err != nil {
		writeStoreError(w, "could not update alert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}
	if err := s.repo.ResolveAlert(r.Context(), id, time.Now().UTC()); err != nil {
		writeStoreError(w, "could not update alert", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

// --- devices ---

type createDeviceRequest struct {
	DeviceID string `json:"device_id"`
	FarmerID int64  `json:"farmer_id"`
	Name     string `json:"name"`
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	d := store.Device{
		DeviceID: req.DeviceID,
		FarmerID: req.FarmerID,
		Name:     strings.TrimSpace(req.Name),
		Online:   false,
		LastSeen: time.Now().UTC(),
	}
	if err := s.repo.CreateDevice(r.Context(), &d); err != nil {
		writeStoreError(w, "could not create device", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// --- dashboard ---

type dashboardResponse struct {
	FarmerID   int64           `json:"farmer_id"`
	Readings   []store.Reading `json:"readings"`
	Devices    []store.Device  `json:"devices"`
	Alerts     []store.Alert   `json:"alerts"`
	Statistics dashboardStats  `json:"statistics"`
}

type dashboardStats struct {
	AvgCompressionRatio float64 `json:"avg_compression_ratio"`
	TotalDevices        int     `json:"total_devices"`
	ActiveDevices       int     `json:"active_devices"`
	UnreadAlerts        int64   `json:"unread_alerts"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := parseFarmerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	readings, err := s.repo.LatestReadingsForFarmer(ctx, farmerID, 10)
	if err != nil {
		writeStoreError(w, "could not load dashboard", err)
		return
	}
	devices, err := s.repo.ListDevices(ctx, farmerID)
	if err != nil {
		writeStoreError(w, "could not load dashboard", err)
		return
	}
	alerts, err := s.repo.ListAlerts(ctx, farmerID, true, 5)
	if err != nil {
		writeStoreError(w, "could not load dashboard", err)
		return
	}
	avg, err := s.repo.AvgCompressionRatio(ctx, farmerID)
	if err != nil {
		writeStoreError(w, "could not load dashboard", err)
		return
	}
	unread, err := s.repo.UnreadAlertCount(ctx, farmerID)
	if err != nil {
		writeStoreError(w, "could not load dashboard", err)
		return
	}

	active := 0
	for _, d := range devices {
		if d.Online {
			active++
		}
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		FarmerID: farmerID,
		Readings: readings,
		Devices:  devices,
		Alerts:   alerts,
		Statistics: dashboardStats{
			AvgCompressionRatio: avg,
			TotalDevices:        len(devices),
			ActiveDevices:       active,
			UnreadAlerts:        unread,
		},
	})
}

// --- helpers ---

func parseFarmerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "farmerID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid farmer id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseAlertID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "alertID"))
	if err != nil {
		http.Error(w, "invalid alert id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, msg+": not found", http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, msg+": store unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func parseTimePtr(v string) (time.Time, *time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		// accept RFC3339Nano too
		t, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, nil, err
		}
	}
	t = t.UTC()
	return t, &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"monitoring-service/internal/store"
)

func TestHTTPNotifierPostsAlert(t *testing.T) {
	var got notifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, srv.Client())
	a := store.Alert{FarmerID: 3, DeviceID: "esp32-001", AlertType: store.AlertMoistureLow, Severity: store.SeverityCritical, Title: "Low Soil Moisture Alert", Message: "Soil moisture at 20%"}
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.FarmerID != 3 || got.AlertType != string(store.AlertMoistureLow) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPNotifierNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, nil)
	if err := n.Notify(context.Background(), store.Alert{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"monitoring-service/internal/store"
)

type notifyRequest struct {
	AlertID        string  `json:"alert_id"`
	FarmerID       int64   `json:"farmer_id"`
	DeviceID       string  `json:"device_id"`
	AlertType      string  `json:"alert_type"`
	Severity       string  `json:"severity"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	ThresholdValue float64 `json:"threshold_value"`
	CurrentValue   float64 `json:"current_value"`
}

// HTTPNotifier forwards alerts to the external notification service.
type HTTPNotifier struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPNotifier(baseURL string, httpClient *http.Client) *HTTPNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (n *HTTPNotifier) Notify(ctx context.Context, a store.Alert) error {
	if n.baseURL == "" {
		return errors.New("notifier url not configured")
	}

	payload := notifyRequest{
		AlertID:        a.ID.String(),
		FarmerID:       a.FarmerID,
		DeviceID:       a.DeviceID,
		AlertType:      string(a.AlertType),
		Severity:       string(a.Severity),
		Title:          a.Title,
		Message:        a.Message,
		ThresholdValue: a.ThresholdValue,
		CurrentValue:   a.CurrentValue,
	}
	b, _ := json.Marshal(payload)

	url := n.baseURL + "/notify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

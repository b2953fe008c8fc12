package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AlertType is the closed set of conditions the evaluator can raise.
type AlertType string

const (
	AlertTemperatureLow  AlertType = "temperature_low"
	AlertTemperatureHigh AlertType = "temperature_high"
	AlertMoistureLow     AlertType = "moisture_low"
	AlertMoistureHigh    AlertType = "moisture_high"
	AlertHumidityLow     AlertType = "humidity_low"
	AlertHumidityHigh    AlertType = "humidity_high"
	AlertDeviceOffline   AlertType = "device_offline"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Reading is one ingested sensor sample. Rows are append-only: the
// classification fields (CompressionRatio, IsPredicted) are computed at write
// time and never updated afterwards.
type Reading struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID         string         `gorm:"index:idx_readings_device_ts,priority:1;not null" json:"device_id"`
	FarmerID         int64          `gorm:"index;not null" json:"farmer_id"`
	Timestamp        time.Time      `gorm:"index:idx_readings_device_ts,priority:2" json:"timestamp"`
	Temperature      *float64       `json:"temperature,omitempty"`
	Humidity         *float64       `json:"humidity,omitempty"`
	SoilMoisture     *float64       `json:"soil_moisture,omitempty"`
	LightIntensity   *float64       `json:"light_intensity,omitempty"`
	CompressionRatio float64        `json:"compression_ratio"`
	IsPredicted      bool           `json:"is_predicted"`
	Payload          datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	IngestedAt       time.Time      `json:"ingested_at"`
}

// Device tracks liveness only; registration metadata lives elsewhere.
type Device struct {
	DeviceID  string    `gorm:"primaryKey" json:"device_id"`
	FarmerID  int64     `gorm:"index;not null" json:"farmer_id"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// ThresholdConfig holds a farmer's alert bounds. Nil fields fall back to the
// documented defaults at evaluation time.
type ThresholdConfig struct {
	FarmerID       int64     `gorm:"primaryKey" json:"farmer_id"`
	TemperatureMin *float64  `json:"temperature_min,omitempty"`
	TemperatureMax *float64  `json:"temperature_max,omitempty"`
	MoistureMin    *float64  `json:"moisture_min,omitempty"`
	MoistureMax    *float64  `json:"moisture_max,omitempty"`
	HumidityMin    *float64  `json:"humidity_min,omitempty"`
	HumidityMax    *float64  `json:"humidity_max,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Alert rows are never deleted. IsRead and IsResolved are independent flags;
// ResolvedAt is set exactly once, when IsResolved first flips to true.
type Alert struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FarmerID         int64      `gorm:"index;not null" json:"farmer_id"`
	DeviceID         string     `gorm:"index:idx_alerts_device_type,priority:1;not null" json:"device_id"`
	AlertType        AlertType  `gorm:"index:idx_alerts_device_type,priority:2;not null" json:"alert_type"`
	Severity         Severity   `gorm:"not null" json:"severity"`
	Title            string     `json:"title"`
	Message          string     `gorm:"type:text" json:"message"`
	ThresholdValue   float64    `json:"threshold_value"`
	CurrentValue     float64    `json:"current_value"`
	IsRead           bool       `json:"is_read"`
	IsResolved       bool       `json:"is_resolved"`
	NotificationSent bool       `json:"notification_sent"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

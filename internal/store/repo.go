package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Reading{}, &Device{}, &ThresholdConfig{}, &Alert{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// --- Readings ---

func (r *Repo) InsertReading(ctx context.Context, p *Reading) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.IngestedAt.IsZero() {
		p.IngestedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert reading: %w", mapErr(err))
	}
	return nil
}

// LatestReading returns nil when the device has no history yet.
func (r *Repo) LatestReading(ctx context.Context, deviceID string) (*Reading, error) {
	var row Reading
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp DESC").Order("id DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading: %w", mapErr(err))
	}
	return &row, nil
}

type Page struct {
	Readings   []Reading `json:"readings"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func (r *Repo) ListReadings(ctx context.Context, deviceID string, from, to time.Time, limit int, cursor *Cursor, desc bool) (Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		limit = 10000
	}

	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "device_id"}, Value: deviceID},
	}
	if !from.IsZero() {
		exprs = append(exprs, clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: from})
	}
	if !to.IsZero() {
		exprs = append(exprs, clause.Lte{Column: clause.Column{Name: "timestamp"}, Value: to})
	}
	if cursor != nil {
		if desc {
			exprs = append(exprs, clause.Or(
				clause.Lt{Column: clause.Column{Name: "timestamp"}, Value: cursor.Timestamp},
				clause.And(
					clause.Eq{Column: clause.Column{Name: "timestamp"}, Value: cursor.Timestamp},
					clause.Lt{Column: clause.Column{Name: "id"}, Value: cursor.ID},
				),
			))
		} else {
			exprs = append(exprs, clause.Or(
				clause.Gt{Column: clause.Column{Name: "timestamp"}, Value: cursor.Timestamp},
				clause.And(
					clause.Eq{Column: clause.Column{Name: "timestamp"}, Value: cursor.Timestamp},
					clause.Gt{Column: clause.Column{Name: "id"}, Value: cursor.ID},
				),
			))
		}
	}

	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "timestamp"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}

	var rows []Reading
	q := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: exprs}, order).Limit(limit + 1)
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, fmt.Errorf("list readings: %w", mapErr(err))
	}

	var next *Cursor
	if len(rows) > limit {
		last := rows[limit-1]
		next = &Cursor{Timestamp: last.Timestamp, ID: last.ID}
		rows = rows[:limit]
	}

	out := Page{Readings: rows}
	if next != nil {
		out.NextCursor = EncodeCursor(*next)
	}
	return out, nil
}

func (r *Repo) LatestReadingsForFarmer(ctx context.Context, farmerID int64, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []Reading
	err := r.db.WithContext(ctx).
		Where("farmer_id = ?", farmerID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest readings: %w", mapErr(err))
	}
	return rows, nil
}

func (r *Repo) AvgCompressionRatio(ctx context.Context, farmerID int64) (float64, error) {
	var avg *float64
	err := r.db.WithContext(ctx).Model(&Reading{}).
		Where("farmer_id = ?", farmerID).
		Select("AVG(compression_ratio)").
		Scan(&avg).Error
	if err != nil {
		return 0, fmt.Errorf("avg compression: %w", mapErr(err))
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

// --- Devices ---

func (r *Repo) CreateDevice(ctx context.Context, d *Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create device: %w", mapErr(err))
	}
	return nil
}

func (r *Repo) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", deviceID, mapErr(err))
	}
	return &d, nil
}

func (r *Repo) ListDevices(ctx context.Context, farmerID int64) ([]Device, error) {
	var rows []Device
	err := r.db.WithContext(ctx).Where("farmer_id = ?", farmerID).Order("device_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", mapErr(err))
	}
	return rows, nil
}

// TouchDevice records a successful ingest: last_seen moves forward and the
// device counts as online again.
func (r *Repo) TouchDevice(ctx context.Context, deviceID string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"last_seen": now.UTC(), "online": true})
	if res.Error != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, mapErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("touch device %s: %w", deviceID, ErrNotFound)
	}
	return nil
}

// StaleDevices returns devices still marked online whose last_seen predates the cutoff.
func (r *Repo) StaleDevices(ctx context.Context, cutoff time.Time) ([]Device, error) {
	var rows []Device
	err := r.db.WithContext(ctx).
		Where("online = ? AND last_seen < ?", true, cutoff.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("stale devices: %w", mapErr(err))
	}
	return rows, nil
}

func (r *Repo) MarkDeviceOffline(ctx context.Context, deviceID string) error {
	err := r.db.WithContext(ctx).Model(&Device{}).
		Where("device_id = ?", deviceID).
		Update("online", false).Error
	if err != nil {
		return fmt.Errorf("mark offline %s: %w", deviceID, mapErr(err))
	}
	return nil
}

// --- Thresholds ---

// GetThresholds returns nil when the farmer has no stored configuration.
func (r *Repo) GetThresholds(ctx context.Context, farmerID int64) (*ThresholdConfig, error) {
	var cfg ThresholdConfig
	err := r.db.WithContext(ctx).Where("farmer_id = ?", farmerID).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thresholds: %w", mapErr(err))
	}
	return &cfg, nil
}

func (r *Repo) SaveThresholds(ctx context.Context, cfg *ThresholdConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "farmer_id"}},
			UpdateAll: true,
		}).
		Create(cfg).Error
	if err != nil {
		return fmt.Errorf("save thresholds: %w", mapErr(err))
	}
	return nil
}

// --- Alerts ---

func (r *Repo) CreateAlert(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create alert: %w", mapErr(err))
	}
	return nil
}

// HasUnresolvedAlert backs the evaluator's suppression of duplicate alerts.
func (r *Repo) HasUnresolvedAlert(ctx context.Context, deviceID string, t AlertType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Alert{}).
		Where("device_id = ? AND alert_type = ? AND is_resolved = ?", deviceID, t, false).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("unresolved alert lookup: %w", mapErr(err))
	}
	return count > 0, nil
}

func (r *Repo) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	var a Alert
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, mapErr(err))
	}
	return &a, nil
}

func (r *Repo) ListAlerts(ctx context.Context, farmerID int64, unreadOnly bool, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("farmer_id = ?", farmerID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var rows []Alert
	err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", mapErr(err))
	}
	return rows, nil
}

func (r *Repo) UnreadAlertCount(ctx context.Context, farmerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Alert{}).
		Where("farmer_id = ? AND is_read = ?", farmerID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("unread alert count: %w", mapErr(err))
	}
	return count, nil
}

func (r *Repo) MarkNotificationSent(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&Alert{}).
		Where("id = ?", id).
		Update("notification_sent", true).Error
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", mapErr(err))
	}
	return nil
}

func (r *Repo) MarkAlertRead(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&Alert{}).
		Where("id = ?", id).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark alert read: %w", mapErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark alert read %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResolveAlert flips is_resolved and stamps resolved_at. Resolving an already
// resolved alert is a no-op so resolved_at is only ever written once.
func (r *Repo) ResolveAlert(ctx context.Context, id uuid.UUID, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&Alert{}).
		Where("id = ? AND is_resolved = ?", id, false).
		Updates(map[string]any{"is_resolved": true, "resolved_at": now.UTC()})
	if res.Error != nil {
		return fmt.Errorf("resolve alert: %w", mapErr(res.Error))
	}
	if res.RowsAffected == 0 {
		// Distinguish missing from already-resolved.
		if _, err := r.GetAlert(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

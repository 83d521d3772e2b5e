package scanner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/pkg/common"
)

// ErrNotFound is returned by repositories for missing rows so callers do
// not depend on the storage driver's sentinel.
var ErrNotFound = errors.New("record not found")

// DeviceRepository is the persistence surface the reconciler and sweeper
// need for device rows.
type DeviceRepository interface {
	// GetByIP returns the device row for ipaddr, or ErrNotFound.
	GetByIP(ctx context.Context, ipaddr string) (*domain.NetDevice, error)

	// Create inserts a new device row.
	Create(ctx context.Context, dev *domain.NetDevice) error

	// Update persists all mutable fields of an existing row.
	Update(ctx context.Context, dev *domain.NetDevice) error

	// DeleteByIP removes a device row (explicit user action).
	DeleteByIP(ctx context.Context, ipaddr string) error

	// ListIPs returns every known address, ordered for stable refresh runs.
	ListIPs(ctx context.Context) ([]string, error)
}

// HistoryRepository appends to the device timeline.
type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.NetDeviceHistory) error
}

// GormDeviceRepository is the GORM implementation of DeviceRepository,
// plus the retention operations the maintenance service consumes.
type GormDeviceRepository struct {
	db *gorm.DB
}

func NewGormDeviceRepository(db *gorm.DB) *GormDeviceRepository {
	return &GormDeviceRepository{db: db}
}

func (r *GormDeviceRepository) GetByIP(ctx context.Context, ipaddr string) (*domain.NetDevice, error) {
	var dev domain.NetDevice
	err := r.db.WithContext(ctx).Where("ipaddr = ?", ipaddr).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "get device %s: %v", ipaddr, err)
	}
	return &dev, nil
}

func (r *GormDeviceRepository) Create(ctx context.Context, dev *domain.NetDevice) error {
	if dev.ID == 0 {
		dev.ID = common.UUIDint64()
	}
	if err := r.db.WithContext(ctx).Create(dev).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "create device %s: %v", dev.Ipaddr, err)
	}
	return nil
}

func (r *GormDeviceRepository) Update(ctx context.Context, dev *domain.NetDevice) error {
	err := r.db.WithContext(ctx).
		Model(&domain.NetDevice{}).
		Where("ipaddr = ?", dev.Ipaddr).
		Updates(map[string]interface{}{
			"mac":             dev.Mac,
			"hostname":        dev.Hostname,
			"vendor":          dev.Vendor,
			"hostname_source": dev.HostnameSource,
			"vendor_source":   dev.VendorSource,
			"status":          dev.Status,
			"ping_latency_ms": dev.PingLatencyMs,
			"last_seen":       dev.LastSeen,
			"scan_count":      dev.ScanCount,
			"extra_info":      dev.ExtraInfo,
		}).Error
	if err != nil {
		return errors.Wrapf(ErrPersistence, "update device %s: %v", dev.Ipaddr, err)
	}
	return nil
}

func (r *GormDeviceRepository) DeleteByIP(ctx context.Context, ipaddr string) error {
	err := r.db.WithContext(ctx).Where("ipaddr = ?", ipaddr).Delete(&domain.NetDevice{}).Error
	if err != nil {
		return errors.Wrapf(ErrPersistence, "delete device %s: %v", ipaddr, err)
	}
	return nil
}

func (r *GormDeviceRepository) ListIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := r.db.WithContext(ctx).
		Model(&domain.NetDevice{}).
		Order("ipaddr ASC").
		Pluck("ipaddr", &ips).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "list device ips: %v", err)
	}
	return ips, nil
}

// PurgeAll deletes every device row unconditionally.
func (r *GormDeviceRepository) PurgeAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&domain.NetDevice{})
	return res.RowsAffected, res.Error
}

// PurgeLastSeenBefore deletes device rows whose lastSeen is older than cutoff.
func (r *GormDeviceRepository) PurgeLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("last_seen < ?", cutoff).Delete(&domain.NetDevice{})
	return res.RowsAffected, res.Error
}

// PurgeOfflineAll deletes every offline device row regardless of age.
func (r *GormDeviceRepository) PurgeOfflineAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ?", domain.DeviceOffline).
		Delete(&domain.NetDevice{})
	return res.RowsAffected, res.Error
}

// PurgeOfflineLastSeenBefore deletes offline device rows whose lastSeen is
// older than cutoff.
func (r *GormDeviceRepository) PurgeOfflineLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND last_seen < ?", domain.DeviceOffline, cutoff).
		Delete(&domain.NetDevice{})
	return res.RowsAffected, res.Error
}

// GormHistoryRepository is the GORM implementation of HistoryRepository.
type GormHistoryRepository struct {
	db *gorm.DB
}

func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	return &GormHistoryRepository{db: db}
}

func (r *GormHistoryRepository) Append(ctx context.Context, entry *domain.NetDeviceHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "append history %s: %v", entry.Ipaddr, err)
	}
	return nil
}

// ListSince returns a device's timeline from since on, in observation order.
func (r *GormHistoryRepository) ListSince(ctx context.Context, ipaddr string, since time.Time) ([]domain.NetDeviceHistory, error) {
	var rows []domain.NetDeviceHistory
	err := r.db.WithContext(ctx).
		Where("ipaddr = ? AND observed_at >= ?", ipaddr, since).
		Order("observed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "list history %s: %v", ipaddr, err)
	}
	return rows, nil
}

func (r *GormHistoryRepository) PurgeAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&domain.NetDeviceHistory{})
	return res.RowsAffected, res.Error
}

func (r *GormHistoryRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("observed_at < ?", cutoff).Delete(&domain.NetDeviceHistory{})
	return res.RowsAffected, res.Error
}

// GormLatencyRepository serves the latency time series and its per-IP
// monitoring toggle. Measurements come from the periodic latency
// monitor task for every toggled-on address.
type GormLatencyRepository struct {
	db *gorm.DB
}

func NewGormLatencyRepository(db *gorm.DB) *GormLatencyRepository {
	return &GormLatencyRepository{db: db}
}

// Record appends one measurement. A nil latency means packet loss.
func (r *GormLatencyRepository) Record(ctx context.Context, ipaddr string, latencyMs *float64, measuredAt time.Time) error {
	row := domain.NetLatency{
		ID:         common.UUIDint64(),
		Ipaddr:     ipaddr,
		LatencyMs:  latencyMs,
		PacketLoss: latencyMs == nil,
		MeasuredAt: measuredAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "record latency %s: %v", ipaddr, err)
	}
	return nil
}

func (r *GormLatencyRepository) ListSince(ctx context.Context, ipaddr string, since time.Time) ([]domain.NetLatency, error) {
	var rows []domain.NetLatency
	err := r.db.WithContext(ctx).
		Where("ipaddr = ? AND measured_at >= ?", ipaddr, since).
		Order("measured_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "list latency %s: %v", ipaddr, err)
	}
	return rows, nil
}

// SetToggle enables or disables continuous monitoring for an address.
func (r *GormLatencyRepository) SetToggle(ctx context.Context, ipaddr string, enabled bool) error {
	var toggle domain.NetLatencyToggle
	err := r.db.WithContext(ctx).Where("ipaddr = ?", ipaddr).First(&toggle).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		toggle = domain.NetLatencyToggle{
			ID:      common.UUIDint64(),
			Ipaddr:  ipaddr,
			Enabled: enabled,
		}
		err = r.db.WithContext(ctx).Create(&toggle).Error
	case err == nil:
		err = r.db.WithContext(ctx).
			Model(&domain.NetLatencyToggle{}).
			Where("ipaddr = ?", ipaddr).
			Update("enabled", enabled).Error
	}
	if err != nil {
		return errors.Wrapf(ErrPersistence, "set latency toggle %s: %v", ipaddr, err)
	}
	return nil
}

// EnabledIPs lists the addresses the external monitor should collect for.
func (r *GormLatencyRepository) EnabledIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := r.db.WithContext(ctx).
		Model(&domain.NetLatencyToggle{}).
		Where("enabled = ?", true).
		Order("ipaddr ASC").
		Pluck("ipaddr", &ips).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "list enabled latency ips: %v", err)
	}
	return ips, nil
}

func (r *GormLatencyRepository) PurgeAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&domain.NetLatency{})
	return res.RowsAffected, res.Error
}

func (r *GormLatencyRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("measured_at < ?", cutoff).Delete(&domain.NetLatency{})
	return res.RowsAffected, res.Error
}

// Package maintenance hosts the retention policies, storage compaction
// and sizing diagnostics that keep the discovery tables from growing
// without bound. All purges act on whole rows matched purely by timestamp
// predicates, are idempotent and safe to run while scans are in flight.
package maintenance

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/pkg/common"
)

// ErrRetention marks a failed purge or compaction; there is never a
// partial commit hidden behind it.
var ErrRetention = errors.New("retention error")

// DevicePurger is the device-table surface retention needs.
type DevicePurger interface {
	PurgeAll(ctx context.Context) (int64, error)
	PurgeLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOfflineAll(ctx context.Context) (int64, error)
	PurgeOfflineLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SeriesPurger is the shared surface of the append-only time-series
// tables (history, latency).
type SeriesPurger interface {
	PurgeAll(ctx context.Context) (int64, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service applies the retention policies. Every policy takes a
// retention-days parameter where 0 means "delete unconditionally,
// ignore age".
type Service struct {
	db      *gorm.DB
	devices DevicePurger
	history SeriesPurger
	latency SeriesPurger
	clock   common.Clock
}

func NewService(db *gorm.DB, devices DevicePurger, history SeriesPurger, latency SeriesPurger, clock common.Clock) *Service {
	if clock == nil {
		clock = common.SystemClock
	}
	return &Service{db: db, devices: devices, history: history, latency: latency, clock: clock}
}

func (s *Service) cutoff(days int) time.Time {
	return s.clock().Add(-time.Duration(days) * 24 * time.Hour)
}

// PurgeHistory deletes history rows older than days.
func (s *Service) PurgeHistory(ctx context.Context, days int) (int64, error) {
	return s.purgeSeries(ctx, "history", s.history, days)
}

// PurgeLatency deletes latency measurements older than days.
func (s *Service) PurgeLatency(ctx context.Context, days int) (int64, error) {
	return s.purgeSeries(ctx, "latency", s.latency, days)
}

func (s *Service) purgeSeries(ctx context.Context, what string, p SeriesPurger, days int) (int64, error) {
	if days < 0 {
		return 0, errors.Wrapf(ErrRetention, "%s retention days must be >= 0, got %d", what, days)
	}
	var n int64
	var err error
	if days == 0 {
		n, err = p.PurgeAll(ctx)
	} else {
		n, err = p.PurgeBefore(ctx, s.cutoff(days))
	}
	if err != nil {
		return 0, errors.Wrapf(ErrRetention, "purge %s: %v", what, err)
	}
	zap.L().Info("retention purge done", zap.String("table", what), zap.Int("days", days), zap.Int64("rows", n))
	return n, nil
}

// PurgeDevices deletes device rows whose lastSeen is older than days,
// regardless of status.
func (s *Service) PurgeDevices(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, errors.Wrapf(ErrRetention, "device retention days must be >= 0, got %d", days)
	}
	var n int64
	var err error
	if days == 0 {
		n, err = s.devices.PurgeAll(ctx)
	} else {
		n, err = s.devices.PurgeLastSeenBefore(ctx, s.cutoff(days))
	}
	if err != nil {
		return 0, errors.Wrapf(ErrRetention, "purge devices: %v", err)
	}
	zap.L().Info("retention purge done", zap.String("table", "devices"), zap.Int("days", days), zap.Int64("rows", n))
	return n, nil
}

// PurgeOfflineDevices deletes offline device rows whose lastSeen is older
// than days.
func (s *Service) PurgeOfflineDevices(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, errors.Wrapf(ErrRetention, "offline retention days must be >= 0, got %d", days)
	}
	var n int64
	var err error
	if days == 0 {
		n, err = s.devices.PurgeOfflineAll(ctx)
	} else {
		n, err = s.devices.PurgeOfflineLastSeenBefore(ctx, s.cutoff(days))
	}
	if err != nil {
		return 0, errors.Wrapf(ErrRetention, "purge offline devices: %v", err)
	}
	zap.L().Info("retention purge done", zap.String("table", "offline devices"), zap.Int("days", days), zap.Int64("rows", n))
	return n, nil
}

// Compact reclaims dead storage space. On postgres this is a plain
// VACUUM over the discovery tables.
func (s *Service) Compact(ctx context.Context) error {
	if s.db == nil {
		return errors.Wrap(ErrRetention, "compaction requires a database handle")
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return errors.Wrapf(ErrRetention, "vacuum: %v", err)
	}
	zap.L().Info("storage compaction finished")
	return nil
}

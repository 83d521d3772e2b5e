package app

import (
	"time"

	"go.uber.org/zap"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/internal/ouidb"
	"github.com/talkincode/lanprobe/pkg/common"
)

type settingSchema struct {
	Category    string
	Name        string
	Default     string
	Description string
}

var defaultSettings = []settingSchema{
	{"scan", "batch_size", "20", "Concurrent probes per batch"},
	{"scan", "batch_delay_ms", "200", "Pause between probe batches"},
	{"scan", "probe_timeout_ms", "2000", "Per-address probe timeout"},
	{"scan", "max_workers", "50", "Upper bound on scheduler worker goroutines"},
	{"retention", "history_days", "90", "Days of device history to keep, 0 purges everything"},
	{"retention", "latency_days", "30", "Days of latency samples to keep, 0 purges everything"},
	{"retention", "offline_device_days", "90", "Purge offline devices unseen for this many days, negative disables"},
	{"retention", "device_days", "-1", "Purge any device unseen for this many days, negative disables"},
	{"oui", "registry_url", ouidb.RegistryURL, "Vendor registry download URL"},
}

// checkSettings seeds sys_config rows for every known setting that is
// still missing, leaving operator-modified values alone.
func (a *Application) checkSettings() {
	for sortid, schema := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", schema.Category, schema.Name).
			Count(&count)

		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				ID:     0,
				Sort:   sortid,
				Type:   schema.Category,
				Name:   schema.Name,
				Value:  schema.Default,
				Remark: schema.Description,
			})
			zap.L().Info("initialized config",
				zap.String("key", schema.Category+"."+schema.Name),
				zap.String("default", schema.Default))
		}
	}
}

// checkSchedulers initializes default scheduled tasks
func (a *Application) checkSchedulers() {
	// Default schedulers to initialize. The range scan ships disabled:
	// the operator sets the target range in its config and enables it.
	defaultSchedulers := []domain.NetScheduler{
		{
			Name:     "Known Device Refresh",
			TaskType: "refresh",
			Interval: 300, // 5 minutes
			Status:   common.ENABLED,
			Remark:   "Periodically re-probes every known device and updates its status",
		},
		{
			Name:     "OUI Registry Update",
			TaskType: "oui_update",
			Interval: 86400, // daily
			Status:   common.ENABLED,
			Remark:   "Refreshes the MAC vendor registry from the IEEE download",
		},
		{
			Name:     "Latency Monitor",
			TaskType: "latency_monitor",
			Interval: 60, // 1 minute
			Status:   common.ENABLED,
			Remark:   "Records latency samples for devices with monitoring enabled",
		},
		{
			Name:     "Local Range Scan",
			TaskType: "range_scan",
			Interval: 3600, // hourly
			Status:   common.DISABLED,
			Config:   `{"range": "192.168.1.0/24", "mode": "full"}`,
			Remark:   "Template range scan, set the target range and enable",
		},
	}

	for _, sched := range defaultSchedulers {
		var count int64
		a.gormDB.Model(&domain.NetScheduler{}).
			Where("task_type = ?", sched.TaskType).
			Count(&count)

		if count == 0 {
			sched.NextRunAt = time.Now().Add(time.Duration(sched.Interval) * time.Second)
			if err := a.gormDB.Create(&sched).Error; err != nil {
				zap.L().Error("failed to create default scheduler",
					zap.String("name", sched.Name),
					zap.Error(err))
			} else {
				zap.L().Info("initialized default scheduler",
					zap.String("name", sched.Name),
					zap.String("task_type", sched.TaskType))
			}
		}
	}
}

// checkOuiSeeds plants a few well-known vendor prefixes so MAC vendor
// lookups work before the first registry download completes.
func (a *Application) checkOuiSeeds() {
	defaultOuis := []domain.NetOui{
		{Prefix: "b827eb", PrefixBits: 24, Vendor: "Raspberry Pi Foundation"},
		{Prefix: "dca632", PrefixBits: 24, Vendor: "Raspberry Pi Trading Ltd"},
		{Prefix: "f4f5d8", PrefixBits: 24, Vendor: "Google, Inc."},
		{Prefix: "3c5282", PrefixBits: 24, Vendor: "Hewlett Packard"},
		{Prefix: "001b63", PrefixBits: 24, Vendor: "Apple, Inc."},
		{Prefix: "f0b429", PrefixBits: 24, Vendor: "Xiaomi Communications Co Ltd"},
		{Prefix: "00155d", PrefixBits: 24, Vendor: "Microsoft Corporation"},
		{Prefix: "525400", PrefixBits: 24, Vendor: "QEMU/KVM virtual NIC"},
		{Prefix: "080027", PrefixBits: 24, Vendor: "Oracle VirtualBox"},
		{Prefix: "005056", PrefixBits: 24, Vendor: "VMware, Inc."},
		{Prefix: "0242ac", PrefixBits: 24, Vendor: "Docker container NIC"},
	}

	for _, v := range defaultOuis {
		var count int64
		a.gormDB.Model(&domain.NetOui{}).Where("prefix = ?", v.Prefix).Count(&count)
		if count == 0 {
			v.ID = common.UUIDint64()
			v.CreatedAt = time.Now()
			v.UpdatedAt = time.Now()
			if err := a.gormDB.Create(&v).Error; err != nil {
				zap.L().Error("failed to create default oui", zap.String("prefix", v.Prefix), zap.Error(err))
			} else {
				zap.L().Info("initialized default oui", zap.String("prefix", v.Prefix), zap.String("vendor", v.Vendor))
			}
		}
	}
}

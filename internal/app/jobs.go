package app

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.SchedRetentionSweep()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@weekly", func() {
		if err := a.maint.Compact(context.Background()); err != nil {
			zap.L().Error("weekly compaction failed", zap.Error(err))
		}
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	// Collect CPU usage
	_cpuuse, err := cpu.Percent(0, false)
	if err != nil || len(_cpuuse) == 0 {
		return
	}

	// Collect memory usage
	_meminfo, err := mem.VirtualMemory()
	if err != nil {
		return
	}

	zap.L().Debug("system monitor",
		zap.Float64("cpu_percent", _cpuuse[0]),
		zap.Uint64("mem_used_mb", _meminfo.Used/1024/1024))
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}

	cpuuse, err := p.CPUPercent()
	if err != nil {
		return
	}

	meminfo, err := p.MemoryInfo()
	if err != nil {
		return
	}

	zap.L().Debug("process monitor",
		zap.Float64("cpu_percent", cpuuse),
		zap.Uint64("rss_mb", meminfo.RSS/1024/1024))
}

// SchedRetentionSweep applies the configured retention windows. A zero-day
// setting purges a series completely, so the daily job only acts on
// positive windows; zero and negative values are operator-triggered paths.
func (a *Application) SchedRetentionSweep() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	ctx := context.Background()

	if days := a.ConfigMgr().GetInt("retention", "history_days"); days > 0 {
		n, err := a.maint.PurgeHistory(ctx, days)
		if err != nil {
			zap.L().Error("history retention purge failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("history retention purge", zap.Int64("rows", n), zap.Int("days", days))
		}
	}

	if days := a.ConfigMgr().GetInt("retention", "latency_days"); days > 0 {
		n, err := a.maint.PurgeLatency(ctx, days)
		if err != nil {
			zap.L().Error("latency retention purge failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("latency retention purge", zap.Int64("rows", n), zap.Int("days", days))
		}
	}

	if days := a.ConfigMgr().GetInt("retention", "offline_device_days"); days > 0 {
		n, err := a.maint.PurgeOfflineDevices(ctx, days)
		if err != nil {
			zap.L().Error("offline device retention purge failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("offline device retention purge", zap.Int64("rows", n), zap.Int("days", days))
		}
	}

	if days := a.ConfigMgr().GetInt("retention", "device_days"); days > 0 {
		n, err := a.maint.PurgeDevices(ctx, days)
		if err != nil {
			zap.L().Error("device retention purge failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("device retention purge", zap.Int64("rows", n), zap.Int("days", days))
		}
	}
}

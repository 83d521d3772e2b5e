package app

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	pinglib "github.com/go-ping/ping"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/pkg/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SchedulerService runs enabled schedulers periodically
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulers()
			}
		}
	}()
}

// runSchedulers executes enabled schedulers
func (a *Application) runSchedulers() {
	var schedulers []domain.NetScheduler
	a.gormDB.Where("status = ?", common.ENABLED).Find(&schedulers)
	now := time.Now()
	for _, sched := range schedulers {
		// Only run if now >= next_run_at
		if sched.NextRunAt.IsZero() || now.After(sched.NextRunAt) || now.Equal(sched.NextRunAt) {
			a.dispatchScheduler(&sched)
			// Update next_run_at
			a.gormDB.Model(&domain.NetScheduler{}).Where("id = ?", sched.ID).Update("next_run_at", now.Add(time.Duration(sched.Interval)*time.Second))
		}
	}
}

func (a *Application) dispatchScheduler(sched *domain.NetScheduler) {
	switch sched.TaskType {
	case "range_scan":
		a.runRangeScanScheduler(sched)
	case "refresh":
		a.runRefreshScheduler(sched)
	case "oui_update":
		a.runOuiUpdateScheduler(sched)
	case "latency_monitor":
		a.runLatencyMonitorScheduler(sched)
	default:
		zap.L().Warn("unknown scheduler task type",
			zap.Int64("scheduler_id", sched.ID),
			zap.String("task_type", sched.TaskType))
	}
}

func (a *Application) markSchedulerRun(id int64, result, message string) {
	a.gormDB.Model(&domain.NetScheduler{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_run_at":  time.Now(),
		"last_result":  result,
		"last_message": message,
	})
}

// runRangeScanScheduler scans the range configured on the task. The Config
// column holds a JSON object with "range" plus any scan options, e.g.
// {"range": "192.168.1.0/24", "mode": "full", "batch_size": 20}.
func (a *Application) runRangeScanScheduler(sched *domain.NetScheduler) {
	zap.L().Info("runRangeScanScheduler invoked", zap.Int64("scheduler_id", sched.ID), zap.String("name", sched.Name))

	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(sched.Config), &cfg); err != nil {
		a.markSchedulerRun(sched.ID, "failed", fmt.Sprintf("invalid config json: %v", err))
		return
	}
	rangeSpec, _ := cfg["range"].(string)
	if rangeSpec == "" {
		a.markSchedulerRun(sched.ID, "failed", "config missing range")
		return
	}
	delete(cfg, "range")

	stats, err := a.RunScan(context.Background(), rangeSpec, cfg)
	if err != nil {
		a.markSchedulerRun(sched.ID, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched.ID, "success",
		fmt.Sprintf("scanned %d, online %d, new %d", stats.Scanned, stats.Online, stats.New))
}

// runRefreshScheduler re-probes every known device
func (a *Application) runRefreshScheduler(sched *domain.NetScheduler) {
	zap.L().Info("runRefreshScheduler invoked", zap.Int64("scheduler_id", sched.ID), zap.String("name", sched.Name))

	stats, err := a.RunRefresh(context.Background())
	if err != nil {
		a.markSchedulerRun(sched.ID, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched.ID, "success",
		fmt.Sprintf("refreshed %d, online %d, offline %d", stats.Scanned, stats.Online, stats.Offline))
}

// runOuiUpdateScheduler refreshes the vendor registry
func (a *Application) runOuiUpdateScheduler(sched *domain.NetScheduler) {
	zap.L().Info("runOuiUpdateScheduler invoked", zap.Int64("scheduler_id", sched.ID), zap.String("name", sched.Name))

	n, err := a.RunOuiUpdate(context.Background())
	if err != nil {
		a.markSchedulerRun(sched.ID, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched.ID, "success", fmt.Sprintf("%d assignments loaded", n))
}

// runLatencyMonitorScheduler pings every monitoring-enabled address and
// records one latency sample per address
func (a *Application) runLatencyMonitorScheduler(sched *domain.NetScheduler) {
	ctx := context.Background()
	ips, err := a.latencyRepo.EnabledIPs(ctx)
	if err != nil {
		a.markSchedulerRun(sched.ID, "failed", err.Error())
		return
	}
	if len(ips) == 0 {
		a.markSchedulerRun(sched.ID, "success", "no monitored addresses")
		return
	}

	// Parallelize pings with a semaphore to limit concurrent goroutines
	const defaultMaxWorkers = 50
	maxWorkers := int(a.GetSettingsInt64Value("scan", "max_workers"))
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, ip := range ips {
		wg.Add(1)
		sem <- struct{}{}
		go func(ipaddr string) {
			defer wg.Done()
			defer func() { <-sem }()

			latency := pingAddress(ipaddr)
			var latencyMs *float64
			if latency >= 0 {
				v := float64(latency)
				latencyMs = &v
			}
			if err := a.latencyRepo.Record(ctx, ipaddr, latencyMs, time.Now()); err != nil {
				zap.L().Error("failed to record latency sample", zap.String("ip", ipaddr), zap.Error(err))
				return
			}
			zap.L().Debug("latency sample recorded", zap.String("ip", ipaddr), zap.Int("latency_ms", latency))
		}(ip)
	}
	wg.Wait()

	a.markSchedulerRun(sched.ID, "success",
		fmt.Sprintf("%d addresses sampled", len(ips)))
}

// pingAddress returns latency in ms, or -1 when the address is unreachable
func pingAddress(ip string) int {
	// Use github.com/go-ping/ping to perform a real ICMP/UDP ping.
	// Note: On some platforms raw ICMP requires elevated privileges. We call
	// SetPrivileged(false) to allow unprivileged mode (UDP) fallback when possible.
	pinger, err := pinglib.NewPinger(ip)
	if err != nil {
		zap.L().Warn("pingAddress: NewPinger failed", zap.String("ip", ip), zap.Error(err))
		return -1
	}

	pinger.Count = 3
	pinger.Timeout = 3 * time.Second
	// Use unprivileged mode so program can run without root/admin when supported
	pinger.SetPrivileged(false)

	err = pinger.Run() // blocks until finished
	if err != nil {
		// ICMP/UDP ping failed on this platform; downgrade to Debug to avoid noisy WARN
		zap.L().Debug("pingAddress: icmp/udp run failed, will try TCP fallback", zap.String("ip", ip), zap.Error(err))
		// try TCP fallback
	} else {
		stats := pinger.Statistics()
		if stats.PacketsRecv > 0 {
			avg := stats.AvgRtt
			return int(avg.Milliseconds())
		}
	}

	// TCP fallback: the same ports the enrichment port check inspects
	ports := []int{22, 80, 443, 445, 8080}
	for _, p := range ports {
		addr := fmt.Sprintf("%s:%d", ip, p)
		start := time.Now()
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			conn.Close()
			dur := time.Since(start)
			return int(dur.Milliseconds())
		}
	}

	return -1
}

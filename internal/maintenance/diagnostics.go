package maintenance

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/talkincode/lanprobe/internal/domain"
)

// TableInfo is the sizing snapshot of one discovery table.
type TableInfo struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
	Bytes    int64  `json:"bytes"`
}

// Diagnostics is the read-only sizing view served to the dashboard.
type Diagnostics struct {
	Tables        []TableInfo `json:"tables"`
	ProcessRSSMB  int64       `json:"process_rss_mb"`
	ProcessCPUPct float64     `json:"process_cpu_pct"`
	CollectedAt   time.Time   `json:"collected_at"`
}

var sizedTables = []string{
	domain.NetDevice{}.TableName(),
	domain.NetDeviceHistory{}.TableName(),
	domain.NetLatency{}.TableName(),
	domain.NetLatencyToggle{}.TableName(),
	domain.NetOui{}.TableName(),
}

// Diagnostics collects row counts and on-disk sizes of the discovery
// tables plus process resource gauges.
func (s *Service) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	if s.db == nil {
		return nil, errors.Wrap(ErrRetention, "diagnostics requires a database handle")
	}

	out := &Diagnostics{CollectedAt: s.clock()}
	for _, name := range sizedTables {
		info := TableInfo{Name: name}
		if err := s.db.WithContext(ctx).Table(name).Count(&info.RowCount).Error; err != nil {
			return nil, errors.Wrapf(ErrRetention, "count %s: %v", name, err)
		}
		info.Bytes = s.tableBytes(ctx, name)
		out.Tables = append(out.Tables, info)
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: PID fits in int32
		if mem, err := p.MemoryInfo(); err == nil {
			out.ProcessRSSMB = int64(mem.RSS / 1024 / 1024) //nolint:gosec // G115: MB value fits in int64
		}
		if cpu, err := p.CPUPercent(); err == nil {
			out.ProcessCPUPct = cpu
		}
	}
	return out, nil
}

func (s *Service) tableBytes(ctx context.Context, name string) int64 {
	if s.db.Name() != "postgres" {
		return 0
	}
	var size int64
	s.db.WithContext(ctx).Raw("SELECT pg_total_relation_size(?)", name).Scan(&size)
	return size
}

package scanner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/internal/domain"
)

// DeviceQuery filters and orders the device list. LastSeenFrom/To accept
// the usual flexible timestamp spellings (RFC3339, "2024-01-02",
// "01/02/2024 15:04", unix seconds, ...).
type DeviceQuery struct {
	Status       string `json:"status" form:"status"`
	IPPrefix     string `json:"ip_prefix" form:"ip_prefix"`
	Search       string `json:"search" form:"search"`
	LastSeenFrom string `json:"last_seen_from" form:"last_seen_from"`
	LastSeenTo   string `json:"last_seen_to" form:"last_seen_to"`
	SortBy       string `json:"sort_by" form:"sort_by"`
	SortDesc     bool   `json:"sort_desc" form:"sort_desc"`
	Limit        int    `json:"limit" form:"limit"`
	Offset       int    `json:"offset" form:"offset"`
}

// derivedSortFields are orderings the storage layer cannot express:
// numeric IPv4 comparison and empty-last text ordering. These require
// fetching the whole filtered set and sorting in memory before slicing —
// pushing limit/offset below the sort would corrupt page boundaries, so
// it is deliberately not done.
var derivedSortFields = map[string]bool{
	"ipaddr":   true,
	"hostname": true,
	"mac":      true,
	"vendor":   true,
}

// nativeSortFields may be pushed down as ORDER BY.
var nativeSortFields = map[string]bool{
	"last_seen":  true,
	"first_seen": true,
	"scan_count": true,
	"status":     true,
	"created_at": true,
}

// QueryEngine serves filtered, sorted, paginated reads of the device
// table and aggregate views of the history timeline.
type QueryEngine struct {
	db      *gorm.DB
	history *GormHistoryRepository
}

func NewQueryEngine(db *gorm.DB) *QueryEngine {
	return &QueryEngine{db: db, history: NewGormHistoryRepository(db)}
}

// Devices returns one page of the filtered device list plus the total
// filtered row count.
func (e *QueryEngine) Devices(ctx context.Context, q DeviceQuery) ([]domain.NetDevice, int64, error) {
	base := e.db.WithContext(ctx).Model(&domain.NetDevice{})
	base, err := applyDeviceFilters(base, q)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrapf(ErrPersistence, "count devices: %v", err)
	}

	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = "ipaddr"
	}

	if derivedSortFields[sortBy] {
		var rows []domain.NetDevice
		if err := base.Find(&rows).Error; err != nil {
			return nil, 0, errors.Wrapf(ErrPersistence, "list devices: %v", err)
		}
		sortDevices(rows, sortBy, q.SortDesc)
		return paginate(rows, q.Limit, q.Offset), total, nil
	}

	if !nativeSortFields[sortBy] {
		return nil, 0, validationErrorf("unsupported sort field %q", sortBy)
	}
	order := sortBy
	if q.SortDesc {
		order += " DESC"
	}
	tx := base.Order(order).Offset(q.Offset)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []domain.NetDevice
	if err := tx.Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrapf(ErrPersistence, "list devices: %v", err)
	}
	return rows, total, nil
}

func applyDeviceFilters(tx *gorm.DB, q DeviceQuery) (*gorm.DB, error) {
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.IPPrefix != "" {
		tx = tx.Where("ipaddr LIKE ?", q.IPPrefix+"%")
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		tx = tx.Where(
			"LOWER(ipaddr) LIKE ? OR LOWER(mac) LIKE ? OR LOWER(hostname) LIKE ? OR LOWER(vendor) LIKE ? OR LOWER(extra_info) LIKE ?",
			like, like, like, like, like)
	}
	if q.LastSeenFrom != "" {
		from, err := dateparse.ParseAny(q.LastSeenFrom)
		if err != nil {
			return nil, validationErrorf("invalid last_seen_from %q", q.LastSeenFrom)
		}
		tx = tx.Where("last_seen >= ?", from)
	}
	if q.LastSeenTo != "" {
		to, err := dateparse.ParseAny(q.LastSeenTo)
		if err != nil {
			return nil, validationErrorf("invalid last_seen_to %q", q.LastSeenTo)
		}
		tx = tx.Where("last_seen <= ?", to)
	}
	return tx, nil
}

// sortDevices applies a derived ordering in memory. The sort is stable so
// empty-equivalent values keep their relative order.
func sortDevices(rows []domain.NetDevice, field string, desc bool) {
	if field == "ipaddr" {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := ip4Value(rows[i].Ipaddr), ip4Value(rows[j].Ipaddr)
			if desc {
				return a > b
			}
			return a < b
		})
		return
	}

	value := func(d *domain.NetDevice) string {
		switch field {
		case "hostname":
			return d.Hostname
		case "mac":
			return d.Mac
		default:
			return d.Vendor
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := value(&rows[i]), value(&rows[j])
		ae, be := isEmptyValue(a), isEmptyValue(b)
		if ae != be {
			// blanks and placeholders sort last in either direction
			return be
		}
		if ae {
			return false
		}
		al, bl := strings.ToLower(a), strings.ToLower(b)
		if desc {
			return al > bl
		}
		return al < bl
	})
}

// isEmptyValue reports whether an optional text field counts as missing
// for empty-last ordering.
func isEmptyValue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-", "--", domain.DeviceUnknown:
		return true
	}
	return false
}

func paginate(rows []domain.NetDevice, limit, offset int) []domain.NetDevice {
	if offset >= len(rows) {
		return []domain.NetDevice{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// DeviceStats are the aggregate device counters for the dashboard.
type DeviceStats struct {
	Total   int64 `json:"total"`
	Online  int64 `json:"online"`
	Offline int64 `json:"offline"`
	Unknown int64 `json:"unknown"`
}

func (e *QueryEngine) Stats(ctx context.Context) (*DeviceStats, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := e.db.WithContext(ctx).
		Model(&domain.NetDevice{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "device stats: %v", err)
	}

	out := &DeviceStats{}
	for _, row := range rows {
		out.Total += row.N
		switch row.Status {
		case domain.DeviceOnline:
			out.Online = row.N
		case domain.DeviceOffline:
			out.Offline = row.N
		default:
			out.Unknown += row.N
		}
	}
	return out, nil
}

// HistoryBucket is one time slot of a device's aggregated timeline.
type HistoryBucket struct {
	Start         time.Time `json:"start"`
	Samples       int       `json:"samples"`
	Online        int       `json:"online"`
	Offline       int       `json:"offline"`
	MeanLatencyMs float64   `json:"mean_latency_ms"`
	MaxLatencyMs  float64   `json:"max_latency_ms"`
}

// HistoryBuckets aggregates a device's history rows since a point in time
// into fixed-width buckets, earliest first.
func (e *QueryEngine) HistoryBuckets(ctx context.Context, ipaddr string, since time.Time, bucket time.Duration) ([]HistoryBucket, error) {
	if bucket <= 0 {
		bucket = time.Hour
	}
	rows, err := e.history.ListSince(ctx, ipaddr, since)
	if err != nil {
		return nil, err
	}
	return bucketHistory(rows, bucket), nil
}

func bucketHistory(rows []domain.NetDeviceHistory, bucket time.Duration) []HistoryBucket {
	type agg struct {
		b         HistoryBucket
		latencies []float64
	}
	byStart := make(map[time.Time]*agg)
	var order []time.Time

	for _, row := range rows {
		start := row.ObservedAt.Truncate(bucket)
		a, ok := byStart[start]
		if !ok {
			a = &agg{b: HistoryBucket{Start: start}}
			byStart[start] = a
			order = append(order, start)
		}
		a.b.Samples++
		if row.Status == domain.DeviceOnline {
			a.b.Online++
		} else {
			a.b.Offline++
		}
		if row.PingLatencyMs != nil {
			a.latencies = append(a.latencies, *row.PingLatencyMs)
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]HistoryBucket, 0, len(order))
	for _, start := range order {
		a := byStart[start]
		if len(a.latencies) > 0 {
			if mean, err := stats.Mean(a.latencies); err == nil {
				a.b.MeanLatencyMs = mean
			}
			if max, err := stats.Max(a.latencies); err == nil {
				a.b.MaxLatencyMs = max
			}
		}
		out = append(out, a.b)
	}
	return out
}

package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talkincode/lanprobe/internal/domain"
)

// Scan modes. Full scans run the enrichment resolvers for every live
// host; quick scans are liveness-only and carry known fields forward.
const (
	ScanModeFull  = "full"
	ScanModeQuick = "quick"
)

const (
	defaultBatchSize  = 20
	defaultBatchDelay = 200 * time.Millisecond
)

// ScanOptions are the per-call knobs of a scan pass. Zero values fall
// back to the service defaults.
type ScanOptions struct {
	Mode         string `mapstructure:"mode"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchDelayMs int    `mapstructure:"batch_delay_ms"`
}

// ScanOptionsFromMap decodes the plain-parameter maps the transport layer
// hands over.
func ScanOptionsFromMap(m map[string]interface{}) (ScanOptions, error) {
	var opts ScanOptions
	if err := mapstructure.WeakDecode(m, &opts); err != nil {
		return opts, validationErrorf("invalid scan options: %v", err)
	}
	if opts.Mode != "" && opts.Mode != ScanModeFull && opts.Mode != ScanModeQuick {
		return opts, validationErrorf("invalid scan mode %q", opts.Mode)
	}
	return opts, nil
}

// ScanStats are the aggregate counters of one scan pass. A scan always
// returns them, even when individual probes or resolvers failed.
type ScanStats struct {
	Range    string        `json:"range"`
	Mode     string        `json:"mode"`
	Scanned  int           `json:"scanned"`
	New      int           `json:"new"`
	Updated  int           `json:"updated"`
	Online   int           `json:"online"`
	Offline  int           `json:"offline"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// SweepService fans probes out in fixed-size batches and funnels every
// result through the reconciler. Within a batch all probes run
// concurrently and the batch settles as a whole; a failing or slow probe
// never aborts its siblings. Batch K+1 only starts after batch K is
// fully reconciled, which bounds in-flight work.
type SweepService struct {
	prober   Prober
	enricher *Enricher
	recon    *Reconciler
	devices  DeviceRepository

	batchSize  int
	batchDelay time.Duration
	sleep      func(time.Duration)
}

func NewSweepService(prober Prober, enricher *Enricher, recon *Reconciler, devices DeviceRepository, batchSize int, batchDelay time.Duration) *SweepService {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchDelay < 0 {
		batchDelay = defaultBatchDelay
	}
	return &SweepService{
		prober:     prober,
		enricher:   enricher,
		recon:      recon,
		devices:    devices,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		sleep:      time.Sleep,
	}
}

// ScanRange parses and sweeps a range specification. Only a malformed
// range or a persistence failure across the whole pass fails the call.
func (s *SweepService) ScanRange(ctx context.Context, rangeSpec string, opts ScanOptions) (*ScanStats, error) {
	addrs, err := ParseRange(rangeSpec)
	if err != nil {
		return nil, err
	}

	stats, err := s.scanAddrs(ctx, addrs, opts)
	stats.Range = rangeSpec
	return stats, err
}

// RefreshKnown re-probes every already-known address. Defaults to quick
// mode; the caller may request a full pass.
func (s *SweepService) RefreshKnown(ctx context.Context, opts ScanOptions) (*ScanStats, error) {
	addrs, err := s.devices.ListIPs(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ScanModeQuick
	}

	stats, err := s.scanAddrs(ctx, addrs, opts)
	stats.Range = "known"
	return stats, err
}

func (s *SweepService) scanAddrs(ctx context.Context, addrs []string, opts ScanOptions) (*ScanStats, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ScanModeFull
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	delay := s.batchDelay
	if opts.BatchDelayMs > 0 {
		delay = time.Duration(opts.BatchDelayMs) * time.Millisecond
	}

	stats := &ScanStats{Mode: mode}
	started := time.Now()

	pool, err := ants.NewPool(batchSize)
	if err != nil {
		return stats, errors.Wrap(err, "scan worker pool")
	}
	defer pool.Release()

	var mu sync.Mutex
	for start := 0; start < len(addrs); start += batchSize {
		end := start + batchSize
		if end > len(addrs) {
			end = len(addrs)
		}

		var wg sync.WaitGroup
		for _, ipaddr := range addrs[start:end] {
			ipaddr := ipaddr
			wg.Add(1)
			task := func() {
				defer wg.Done()
				outcome, failed := s.scanOne(ctx, ipaddr, mode)

				mu.Lock()
				stats.Scanned++
				if outcome.Status == domain.DeviceOnline {
					stats.Online++
				} else {
					stats.Offline++
				}
				if outcome.Created {
					stats.New++
				}
				if outcome.Updated {
					stats.Updated++
				}
				if failed {
					stats.Failed++
				}
				mu.Unlock()
			}
			if err := pool.Submit(task); err != nil {
				wg.Done()
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				zap.L().Error("scan task submit failed", zap.String("ip", ipaddr), zap.Error(err))
			}
		}
		wg.Wait()

		// pause between batches so the local neighbor table is not flooded
		if end < len(addrs) && delay > 0 {
			s.sleep(delay)
		}
	}

	stats.Duration = time.Since(started)
	zap.L().Info("scan pass finished",
		zap.String("mode", mode),
		zap.Int("scanned", stats.Scanned),
		zap.Int("new", stats.New),
		zap.Int("online", stats.Online),
		zap.Int("offline", stats.Offline),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))

	if stats.Scanned > 0 && stats.Failed == stats.Scanned {
		return stats, errors.Wrap(ErrPersistence, "every reconciliation in the pass failed")
	}
	return stats, nil
}

// scanOne probes one address and reconciles the outcome. Probe and
// resolver trouble degrades to an offline observation; only a repository
// write failure counts against the pass.
func (s *SweepService) scanOne(ctx context.Context, ipaddr, mode string) (ReconcileOutcome, bool) {
	probe := s.prober.Probe(ctx, ipaddr)

	obs := Observation{
		Ipaddr:    ipaddr,
		Alive:     probe.Alive,
		LatencyMs: probe.LatencyMs,
	}
	if mode == ScanModeFull && probe.Alive && s.enricher != nil {
		obs.Enrichment = s.enricher.Enrich(ctx, ipaddr)
	}

	outcome, err := s.recon.Reconcile(ctx, obs)
	if err != nil {
		zap.L().Error("reconcile failed", zap.String("ip", ipaddr), zap.Error(err))
		return outcome, true
	}
	return outcome, false
}

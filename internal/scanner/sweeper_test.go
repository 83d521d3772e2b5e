package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/lanprobe/pkg/common"
)

// scriptedProber answers alive for a fixed set of addresses and counts
// probes.
type scriptedProber struct {
	mu    sync.Mutex
	alive map[string]bool
	calls int
}

func (p *scriptedProber) Probe(_ context.Context, ipaddr string) ProbeResult {
	p.mu.Lock()
	p.calls++
	alive := p.alive[ipaddr]
	p.mu.Unlock()

	res := ProbeResult{Ipaddr: ipaddr, Alive: alive}
	if alive {
		res.LatencyMs = common.Float64Ptr(1.0)
	}
	return res
}

func (p *scriptedProber) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestSweep(prober Prober, devices *memDeviceRepo, history *memHistoryRepo, batchSize int) *SweepService {
	recon := NewReconciler(devices, history, nil, nil)
	svc := NewSweepService(prober, nil, recon, devices, batchSize, 0)
	svc.sleep = func(time.Duration) {}
	return svc
}

func TestScanRangeCounts(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	prober := &scriptedProber{alive: map[string]bool{
		"192.168.1.10": true,
		"192.168.1.12": true,
	}}
	svc := newTestSweep(prober, devices, history, 2)

	stats, err := svc.ScanRange(context.Background(), "192.168.1.10-13", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10-13", stats.Range)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 2, stats.Online)
	assert.Equal(t, 2, stats.Offline)
	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 4, prober.probeCount())

	// only live hosts get device rows, every address gets a timeline row
	assert.Len(t, devices.rows, 2)
	assert.Equal(t, 4, history.count())
}

func TestScanRangeSecondPassUpdatesInsteadOfCreating(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	prober := &scriptedProber{alive: map[string]bool{"10.0.0.10": true}}
	svc := newTestSweep(prober, devices, history, 4)
	ctx := context.Background()

	_, err := svc.ScanRange(ctx, "10.0.0.10-11", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)

	stats, err := svc.ScanRange(ctx, "10.0.0.10-11", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.New)
	assert.Equal(t, 1, stats.Updated)

	// two passes, two timeline rows for the live host
	assert.Len(t, history.forIP("10.0.0.10"), 2)
}

func TestScanRangeInvalidSpecProbesNothing(t *testing.T) {
	prober := &scriptedProber{}
	svc := newTestSweep(prober, newMemDeviceRepo(), &memHistoryRepo{}, 4)

	_, err := svc.ScanRange(context.Background(), "8.8.8.0/24", ScanOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Zero(t, prober.probeCount())
}

func TestScanRangeBatchPausesBetweenBatches(t *testing.T) {
	devices := newMemDeviceRepo()
	prober := &scriptedProber{}
	recon := NewReconciler(devices, &memHistoryRepo{}, nil, nil)
	svc := NewSweepService(prober, nil, recon, devices, 2, 50*time.Millisecond)

	var pauses int
	svc.sleep = func(d time.Duration) {
		assert.Equal(t, 50*time.Millisecond, d)
		pauses++
	}

	_, err := svc.ScanRange(context.Background(), "192.168.1.1-6", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)
	// three batches of two, no pause after the last
	assert.Equal(t, 2, pauses)
}

// gateProber tracks how many probes run at the same time.
type gateProber struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (p *gateProber) Probe(_ context.Context, ipaddr string) ProbeResult {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return ProbeResult{Ipaddr: ipaddr, Alive: false}
}

func (p *gateProber) max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

func TestScanRangeBoundsInFlightProbes(t *testing.T) {
	prober := &gateProber{}
	svc := newTestSweep(prober, newMemDeviceRepo(), &memHistoryRepo{}, 3)

	_, err := svc.ScanRange(context.Background(), "192.168.1.1-12", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)

	// the batch barrier caps in-flight probes at the batch size
	assert.Greater(t, prober.max(), 0)
	assert.LessOrEqual(t, prober.max(), 3)
}

func TestRefreshKnownProbesKnownAddressesOnly(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	prober := &scriptedProber{alive: map[string]bool{"192.168.1.10": true}}
	svc := newTestSweep(prober, devices, history, 4)
	ctx := context.Background()

	_, err := svc.ScanRange(ctx, "192.168.1.10-12", ScanOptions{Mode: ScanModeQuick})
	require.NoError(t, err)
	require.Len(t, devices.rows, 1)

	stats, err := svc.RefreshKnown(ctx, ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, "known", stats.Range)
	assert.Equal(t, ScanModeQuick, stats.Mode)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 0, stats.New)
	assert.Equal(t, 1, stats.Updated)
}

func TestScanRangeFailsWhenEveryReconcileFails(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{fail: true}
	prober := &scriptedProber{}
	svc := newTestSweep(prober, devices, history, 4)

	stats, err := svc.ScanRange(context.Background(), "192.168.1.10-12", ScanOptions{Mode: ScanModeQuick})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, 3, stats.Failed)
}

func TestScanOptionsFromMap(t *testing.T) {
	opts, err := ScanOptionsFromMap(map[string]interface{}{
		"mode":       "quick",
		"batch_size": "8", // transport layers hand over strings
	})
	require.NoError(t, err)
	assert.Equal(t, ScanModeQuick, opts.Mode)
	assert.Equal(t, 8, opts.BatchSize)

	_, err = ScanOptionsFromMap(map[string]interface{}{"mode": "turbo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	opts, err = ScanOptionsFromMap(nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Mode)
}

package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/pkg/common"
)

// memDeviceRepo is an in-memory DeviceRepository for reconciler and
// sweeper tests.
type memDeviceRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.NetDevice
	updates int
	failAll bool
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{rows: make(map[string]domain.NetDevice)}
}

func (r *memDeviceRepo) GetByIP(_ context.Context, ipaddr string) (*domain.NetDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errors.Wrap(ErrPersistence, "forced failure")
	}
	row, ok := r.rows[ipaddr]
	if !ok {
		return nil, ErrNotFound
	}
	copied := row
	return &copied, nil
}

func (r *memDeviceRepo) Create(_ context.Context, dev *domain.NetDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.Wrap(ErrPersistence, "forced failure")
	}
	r.rows[dev.Ipaddr] = *dev
	return nil
}

func (r *memDeviceRepo) Update(_ context.Context, dev *domain.NetDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.Wrap(ErrPersistence, "forced failure")
	}
	r.rows[dev.Ipaddr] = *dev
	r.updates++
	return nil
}

func (r *memDeviceRepo) DeleteByIP(_ context.Context, ipaddr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, ipaddr)
	return nil
}

func (r *memDeviceRepo) ListIPs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ips []string
	for ip := range r.rows {
		ips = append(ips, ip)
	}
	return ips, nil
}

func (r *memDeviceRepo) get(t *testing.T, ipaddr string) domain.NetDevice {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[ipaddr]
	require.True(t, ok, "device %s not found", ipaddr)
	return row
}

// memHistoryRepo collects timeline entries.
type memHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.NetDeviceHistory
	fail    bool
}

func (r *memHistoryRepo) Append(_ context.Context, entry *domain.NetDeviceHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.Wrap(ErrPersistence, "forced failure")
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memHistoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *memHistoryRepo) forIP(ipaddr string) []domain.NetDeviceHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.NetDeviceHistory
	for _, e := range r.entries {
		if e.Ipaddr == ipaddr {
			out = append(out, e)
		}
	}
	return out
}

// testClock is a settable clock for transition tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) clock() common.Clock {
	return func() time.Time {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.now
	}
}

func TestReconcileCreatesDeviceOnFirstSighting(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	recon := NewReconciler(devices, history, nil, clk.clock())

	out, err := recon.Reconcile(context.Background(), Observation{
		Ipaddr:    "192.168.1.10",
		Alive:     true,
		LatencyMs: common.Float64Ptr(1.5),
	})
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.False(t, out.Updated)
	assert.Equal(t, domain.DeviceOnline, out.Status)

	dev := devices.get(t, "192.168.1.10")
	assert.Equal(t, clk.now, dev.FirstSeen)
	assert.Equal(t, clk.now, dev.LastSeen)
	assert.Equal(t, int64(1), dev.ScanCount)
	require.NotNil(t, dev.PingLatencyMs)
	assert.InDelta(t, 1.5, *dev.PingLatencyMs, 0.001)
	assert.Equal(t, 1, history.count())
}

func TestReconcileUnknownDeadAddressLeavesNoDeviceRow(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	recon := NewReconciler(devices, history, nil, nil)

	out, err := recon.Reconcile(context.Background(), Observation{Ipaddr: "192.168.1.99", Alive: false})
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.False(t, out.Updated)
	assert.Equal(t, domain.DeviceOffline, out.Status)

	_, err = devices.GetByIP(context.Background(), "192.168.1.99")
	assert.True(t, errors.Is(err, ErrNotFound))
	// the timeline still records the observation
	assert.Equal(t, 1, history.count())
}

func TestReconcileLastSeenAdvancesOnlyOnTransitions(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	clk := &testClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	recon := NewReconciler(devices, history, nil, clk.clock())
	ctx := context.Background()
	ip := "10.0.0.5"

	t0 := clk.now
	_, err := recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true})
	require.NoError(t, err)
	assert.Equal(t, t0, devices.get(t, ip).LastSeen)

	// still online an hour later: lastSeen must not move
	t1 := t0.Add(time.Hour)
	clk.set(t1)
	out, err := recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true})
	require.NoError(t, err)
	assert.False(t, out.Transitioned)
	assert.Equal(t, t0, devices.get(t, ip).LastSeen)
	assert.Equal(t, int64(2), devices.get(t, ip).ScanCount)

	// going dark is a transition: lastSeen records the moment
	t2 := t1.Add(time.Hour)
	clk.set(t2)
	out, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: false})
	require.NoError(t, err)
	assert.True(t, out.Transitioned)
	assert.Equal(t, t2, devices.get(t, ip).LastSeen)
	assert.Equal(t, domain.DeviceOffline, devices.get(t, ip).Status)

	// staying dark is not
	t3 := t2.Add(time.Hour)
	clk.set(t3)
	out, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: false})
	require.NoError(t, err)
	assert.False(t, out.Transitioned)
	assert.Equal(t, t2, devices.get(t, ip).LastSeen)

	// reappearing is
	t4 := t3.Add(time.Hour)
	clk.set(t4)
	out, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true})
	require.NoError(t, err)
	assert.True(t, out.Transitioned)
	assert.Equal(t, t4, devices.get(t, ip).LastSeen)

	// one history row per reconciliation, regardless of transitions
	assert.Len(t, history.forIP(ip), 5)
}

func TestReconcilePreservesEnrichedFields(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	recon := NewReconciler(devices, history, nil, nil)
	ctx := context.Background()
	ip := "192.168.1.20"

	_, err := recon.Reconcile(ctx, Observation{
		Ipaddr: ip,
		Alive:  true,
		Enrichment: &Enrichment{
			Mac:            "aa:bb:cc:dd:ee:ff",
			Hostname:       "printer.lan",
			HostnameSource: "dns",
			Vendor:         "Hewlett Packard",
			VendorSource:   "oui",
		},
	})
	require.NoError(t, err)

	// a later pass with exhausted resolver chains must not blank anything
	_, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true, Enrichment: &Enrichment{}})
	require.NoError(t, err)

	dev := devices.get(t, ip)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", dev.Mac)
	assert.Equal(t, "printer.lan", dev.Hostname)
	assert.Equal(t, "dns", dev.HostnameSource)
	assert.Equal(t, "Hewlett Packard", dev.Vendor)

	// fresher data replaces, field by field
	_, err = recon.Reconcile(ctx, Observation{
		Ipaddr:     ip,
		Alive:      true,
		Enrichment: &Enrichment{Hostname: "printer-2.lan", HostnameSource: "netbios"},
	})
	require.NoError(t, err)
	dev = devices.get(t, ip)
	assert.Equal(t, "printer-2.lan", dev.Hostname)
	assert.Equal(t, "netbios", dev.HostnameSource)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", dev.Mac)
}

func TestReconcileSerializesConcurrentCallsPerAddress(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	recon := NewReconciler(devices, history, nil, nil)
	ctx := context.Background()
	ip := "192.168.1.77"

	const calls = 100
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true, LatencyMs: common.Float64Ptr(1.0)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every read-modify-write ran whole: no lost scanCount increments,
	// one device row, one timeline entry per call
	dev := devices.get(t, ip)
	assert.Equal(t, int64(calls), dev.ScanCount)
	assert.Len(t, devices.rows, 1)
	assert.Equal(t, calls, history.count())
}

func TestReconcileRepeatedOfflineKeepsEnrichmentIdentical(t *testing.T) {
	devices := newMemDeviceRepo()
	history := &memHistoryRepo{}
	recon := NewReconciler(devices, history, nil, nil)
	ctx := context.Background()
	ip := "192.168.1.60"

	_, err := recon.Reconcile(ctx, Observation{
		Ipaddr: ip,
		Alive:  true,
		Enrichment: &Enrichment{
			Mac:            "aa:bb:cc:00:11:22",
			Hostname:       "nas.lan",
			HostnameSource: "dns",
			Vendor:         "Synology Inc.",
			VendorSource:   "oui",
		},
	})
	require.NoError(t, err)
	before := devices.get(t, ip)

	// the device goes dark and two quick-mode passes probe it unreachable
	for i := 0; i < 2; i++ {
		_, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: false})
		require.NoError(t, err)
	}

	after := devices.get(t, ip)
	assert.Equal(t, domain.DeviceOffline, after.Status)
	assert.Equal(t, before.Mac, after.Mac)
	assert.Equal(t, before.Hostname, after.Hostname)
	assert.Equal(t, before.HostnameSource, after.HostnameSource)
	assert.Equal(t, before.Vendor, after.Vendor)
	assert.Equal(t, before.VendorSource, after.VendorSource)
	// the sighting plus one row per offline observation
	assert.Len(t, history.forIP(ip), 3)
}

func TestReconcileRecordsOpenPorts(t *testing.T) {
	devices := newMemDeviceRepo()
	recon := NewReconciler(devices, &memHistoryRepo{}, nil, nil)

	_, err := recon.Reconcile(context.Background(), Observation{
		Ipaddr:     "192.168.1.30",
		Alive:      true,
		Enrichment: &Enrichment{OpenPorts: []int{22, 443}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"open_ports":[22,443]}`, devices.get(t, "192.168.1.30").ExtraInfo)
}

func TestReconcilePublishesEvents(t *testing.T) {
	devices := newMemDeviceRepo()
	bus := evbus.New()
	recon := NewReconciler(devices, &memHistoryRepo{}, bus, nil)
	ctx := context.Background()
	ip := "192.168.1.40"

	var discovered, changed []string
	require.NoError(t, bus.Subscribe(TopicDeviceDiscovered, func(dev domain.NetDevice) {
		discovered = append(discovered, dev.Ipaddr)
	}))
	require.NoError(t, bus.Subscribe(TopicDeviceStatusChanged, func(dev domain.NetDevice) {
		changed = append(changed, dev.Status)
	}))

	_, err := recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true})
	require.NoError(t, err)

	// no transition, no event
	_, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true})
	require.NoError(t, err)

	_, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: false})
	require.NoError(t, err)

	assert.Equal(t, []string{ip}, discovered)
	assert.Equal(t, []string{domain.DeviceOffline}, changed)
}

func TestReconcileLatencyOnlyUpdatedWhileAlive(t *testing.T) {
	devices := newMemDeviceRepo()
	recon := NewReconciler(devices, &memHistoryRepo{}, nil, nil)
	ctx := context.Background()
	ip := "192.168.1.50"

	_, err := recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: true, LatencyMs: common.Float64Ptr(2.0)})
	require.NoError(t, err)

	// an offline observation keeps the last known latency
	_, err = recon.Reconcile(ctx, Observation{Ipaddr: ip, Alive: false})
	require.NoError(t, err)

	dev := devices.get(t, ip)
	require.NotNil(t, dev.PingLatencyMs)
	assert.InDelta(t, 2.0, *dev.PingLatencyMs, 0.001)
}

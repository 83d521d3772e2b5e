package scanner

import (
	"context"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talkincode/lanprobe/internal/domain"
	"github.com/talkincode/lanprobe/pkg/common"
)

// Event topics published by the reconciler for the notification layer.
const (
	TopicDeviceDiscovered    = "device.discovered"
	TopicDeviceStatusChanged = "device.status_changed"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Observation is the probe+enrichment outcome for one address, the only
// input the reconciler accepts.
type Observation struct {
	Ipaddr     string
	Alive      bool
	LatencyMs  *float64
	Enrichment *Enrichment // nil for quick scans and dead hosts
}

// ReconcileOutcome describes what one reconciliation did.
type ReconcileOutcome struct {
	Created      bool
	Updated      bool
	Transitioned bool
	Status       string
}

// Reconciler is the single write path for device rows. It serializes
// work per address, so a background refresh and a manual scan hitting the
// same IP can never interleave a read-modify-write.
type Reconciler struct {
	devices DeviceRepository
	history HistoryRepository
	bus     evbus.Bus
	clock   common.Clock
	locks   keyedMutex
}

func NewReconciler(devices DeviceRepository, history HistoryRepository, bus evbus.Bus, clock common.Clock) *Reconciler {
	if clock == nil {
		clock = common.SystemClock
	}
	return &Reconciler{
		devices: devices,
		history: history,
		bus:     bus,
		clock:   clock,
	}
}

// Reconcile merges one observation into the device table and appends one
// history entry. Field preservation: enrichment only adds or replaces
// with fresher data, it never blanks a known value. lastSeen advances
// only on status transitions (reappearance, or last confirmed up before
// going dark), never for a host that merely keeps answering.
func (r *Reconciler) Reconcile(ctx context.Context, obs Observation) (ReconcileOutcome, error) {
	unlock := r.locks.lock(obs.Ipaddr)
	defer unlock()

	now := r.clock()
	status := domain.DeviceOffline
	if obs.Alive {
		status = domain.DeviceOnline
	}
	out := ReconcileOutcome{Status: status}

	dev, err := r.devices.GetByIP(ctx, obs.Ipaddr)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		if !obs.Alive {
			// Addresses that never answered get a timeline entry but no
			// device row.
			return out, r.appendHistory(ctx, obs.Ipaddr, status, obs.LatencyMs, now)
		}
		dev = &domain.NetDevice{
			Ipaddr:        obs.Ipaddr,
			Status:        status,
			PingLatencyMs: obs.LatencyMs,
			FirstSeen:     now,
			LastSeen:      now,
			ScanCount:     1,
		}
		applyEnrichment(dev, obs.Enrichment)
		if err := r.devices.Create(ctx, dev); err != nil {
			return out, err
		}
		out.Created = true
		if err := r.appendHistory(ctx, obs.Ipaddr, status, obs.LatencyMs, now); err != nil {
			return out, err
		}
		r.publish(TopicDeviceDiscovered, dev)
		return out, nil
	default:
		return out, err
	}

	prev := dev.Status
	applyEnrichment(dev, obs.Enrichment)
	if obs.Alive && obs.LatencyMs != nil {
		dev.PingLatencyMs = obs.LatencyMs
	}
	dev.ScanCount++

	transitioned := (prev != domain.DeviceOnline && status == domain.DeviceOnline) ||
		(prev == domain.DeviceOnline && status == domain.DeviceOffline)
	if transitioned {
		dev.LastSeen = now
	}
	dev.Status = status

	if err := r.devices.Update(ctx, dev); err != nil {
		return out, err
	}
	out.Updated = true
	out.Transitioned = transitioned

	if err := r.appendHistory(ctx, obs.Ipaddr, status, obs.LatencyMs, now); err != nil {
		return out, err
	}
	if transitioned {
		zap.L().Info("device status changed",
			zap.String("ip", dev.Ipaddr),
			zap.String("from", prev),
			zap.String("to", status))
		r.publish(TopicDeviceStatusChanged, dev)
	}
	return out, nil
}

func (r *Reconciler) appendHistory(ctx context.Context, ipaddr, status string, latency *float64, observedAt time.Time) error {
	return r.history.Append(ctx, &domain.NetDeviceHistory{
		Ipaddr:        ipaddr,
		Status:        status,
		PingLatencyMs: latency,
		ObservedAt:    observedAt,
	})
}

func (r *Reconciler) publish(topic string, dev *domain.NetDevice) {
	if r.bus == nil {
		return
	}
	snapshot := *dev
	r.bus.Publish(topic, snapshot)
}

// applyEnrichment copies fresh resolver output onto the record, keeping
// prior values where the chains came back empty.
func applyEnrichment(dev *domain.NetDevice, enr *Enrichment) {
	if enr == nil {
		return
	}
	if enr.Mac != "" {
		dev.Mac = enr.Mac
	}
	if enr.Hostname != "" {
		dev.Hostname = enr.Hostname
		dev.HostnameSource = enr.HostnameSource
	}
	if enr.Vendor != "" {
		dev.Vendor = enr.Vendor
		dev.VendorSource = enr.VendorSource
	}
	if len(enr.OpenPorts) > 0 {
		payload, err := json.MarshalToString(map[string][]int{"open_ports": enr.OpenPorts})
		if err == nil {
			dev.ExtraInfo = payload
		}
	}
}

// keyedMutex serializes reconciliation per address. Entries are kept for
// the life of the process; the key space is the scanned LAN, so growth is
// bounded.
type keyedMutex struct {
	mus sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.mus.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

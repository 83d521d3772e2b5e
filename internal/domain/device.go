package domain

import "time"

// Device status values. Status is always one of these three.
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
	DeviceUnknown = "unknown"
)

// NetDevice is a discovered LAN host, one row per IP address.
// Rows are created on the first successful probe of an address and from
// then on mutated only through the reconciler.
type NetDevice struct {
	ID             int64      `json:"id,string" form:"id"`                      // Primary key ID
	Ipaddr         string     `gorm:"uniqueIndex" json:"ipaddr" form:"ipaddr"`  // Device IP, unique
	Mac            string     `json:"mac" form:"mac"`                           // Hardware address, may be empty
	Hostname       string     `json:"hostname" form:"hostname"`                 // Resolved name, may be empty
	Vendor         string     `json:"vendor" form:"vendor"`                     // OUI vendor, may be empty
	HostnameSource string     `json:"hostname_source" form:"hostname_source"`   // Which resolver produced Hostname
	VendorSource   string     `json:"vendor_source" form:"vendor_source"`       // Which lookup produced Vendor
	Status         string     `gorm:"index" json:"status" form:"status"`        // online/offline/unknown
	PingLatencyMs  *float64   `json:"ping_latency_ms" form:"ping_latency_ms"`   // Last measured RTT, nil when never measured
	FirstSeen      time.Time  `json:"first_seen"`                               // Immutable after creation
	LastSeen       time.Time  `gorm:"index" json:"last_seen"`                   // Advances only on status transitions
	ScanCount      int64      `json:"scan_count" form:"scan_count"`             // Monotonically increasing
	ExtraInfo      string     `json:"extra_info" form:"extra_info"`             // Opaque JSON payload, e.g. open ports
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName Specify table name
func (NetDevice) TableName() string {
	return "net_device"
}

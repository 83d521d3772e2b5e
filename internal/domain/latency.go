package domain

import "time"

// NetLatency stores time-series latency measurements for monitored IPs.
// Rows are produced by the external continuous monitor; this core only
// reads them and purges them by age. A nil LatencyMs signals packet loss.
type NetLatency struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Ipaddr     string    `gorm:"index" json:"ipaddr"`
	LatencyMs  *float64  `json:"latency_ms"`
	PacketLoss bool      `json:"packet_loss"`
	MeasuredAt time.Time `gorm:"index" json:"measured_at"`
}

// TableName Specify table name
func (NetLatency) TableName() string {
	return "net_latency"
}

// NetLatencyToggle controls whether the external monitor collects
// NetLatency rows for an IP.
type NetLatencyToggle struct {
	ID        int64     `json:"id,string" form:"id"`
	Ipaddr    string    `gorm:"uniqueIndex" json:"ipaddr" form:"ipaddr"`
	Enabled   bool      `json:"enabled" form:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetLatencyToggle) TableName() string {
	return "net_latency_toggle"
}

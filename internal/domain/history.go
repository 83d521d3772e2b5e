package domain

import "time"

// NetDeviceHistory is one probe observation in a device's timeline.
// Rows are append-only: inserted by the reconciler on every pass and
// removed only by the retention purge.
type NetDeviceHistory struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Ipaddr        string    `gorm:"index" json:"ipaddr"`
	Status        string    `json:"status"`
	PingLatencyMs *float64  `json:"ping_latency_ms"`
	ObservedAt    time.Time `gorm:"index" json:"observed_at"`
}

// TableName Specify table name
func (NetDeviceHistory) TableName() string {
	return "net_device_history"
}

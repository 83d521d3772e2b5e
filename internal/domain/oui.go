package domain

import "time"

// NetOui maps an organizationally-unique MAC prefix to a vendor name.
// The table is seeded at startup and refreshed from the IEEE registry by
// the OUI updater; the vendor resolver consumes it read-only.
type NetOui struct {
	ID         int64     `json:"id,string" form:"id"`
	Prefix     string    `gorm:"uniqueIndex" json:"prefix" form:"prefix"` // lowercase hex, no separators (6/7/9 nibbles)
	PrefixBits int       `json:"prefix_bits" form:"prefix_bits"`          // 24 (MA-L), 28 (MA-M) or 36 (MA-S)
	Vendor     string    `json:"vendor" form:"vendor"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetOui) TableName() string {
	return "net_oui"
}

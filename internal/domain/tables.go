package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	// Network discovery
	&NetDevice{},
	&NetDeviceHistory{},
	&NetLatency{},
	&NetLatencyToggle{},
	&NetOui{},
	&NetScheduler{},
}

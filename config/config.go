package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// SysConfig system config
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger config
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// DBConfig database config
type DBConfig struct {
	Type    string `yaml:"type"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"`
	User    string `yaml:"user"`
	Passwd  string `yaml:"passwd"`
	MaxConn int    `yaml:"max_conn"`
	IdleConn int   `yaml:"idle_conn"`
	Debug   bool   `yaml:"debug"`
}

// ScanConfig default knobs for the discovery engine; the runtime-tunable
// values live in sys_config and override these at call time.
type ScanConfig struct {
	Prober           string `yaml:"prober"`             // ping binary ("native") or go-ping ("library")
	PingBinary       string `yaml:"ping_binary"`        // path to the ping executable
	BatchSize        int    `yaml:"batch_size"`         // concurrent probes per batch
	ProbeTimeoutMs   int    `yaml:"probe_timeout_ms"`   // per-probe timeout
	BatchDelayMs     int    `yaml:"batch_delay_ms"`     // pause between batches
	ResolveTimeoutMs int    `yaml:"resolve_timeout_ms"` // per resolver step
	SnmpCommunity    string `yaml:"snmp_community"`     // enables the SNMP hostname resolver when set
	PortCheck        bool   `yaml:"port_check"`         // probe common TCP ports on full scans
}

type AppConfig struct {
	System   SysConfig  `yaml:"system"`
	Logger   LogConfig  `yaml:"logger"`
	Database DBConfig   `yaml:"database"`
	Scan     ScanConfig `yaml:"scan"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "lanprobe",
		Location: "Asia/Shanghai",
		Workdir:  "/var/lanprobe",
		Debug:    true,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/lanprobe/lanprobe.log",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "lanprobe",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
	},
	Scan: ScanConfig{
		Prober:           "native",
		PingBinary:       "ping",
		BatchSize:        20,
		ProbeTimeoutMs:   2000,
		BatchDelayMs:     200,
		ResolveTimeoutMs: 1500,
		PortCheck:        false,
	},
}

func setEnvValue(name string, val *string) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = evalue
	}
}

// LoadConfig reads the YAML config file at cfile, falling back to defaults
// for anything unset. Database credentials may be overridden via
// LANPROBE_DB_* environment variables.
func LoadConfig(cfile string) *AppConfig {
	cfg := *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	setEnvValue("LANPROBE_DB_HOST", &cfg.Database.Host)
	setEnvValue("LANPROBE_DB_NAME", &cfg.Database.Name)
	setEnvValue("LANPROBE_DB_USER", &cfg.Database.User)
	setEnvValue("LANPROBE_DB_PWD", &cfg.Database.Passwd)
	setEnvValue("LANPROBE_WORKDIR", &cfg.System.Workdir)

	if cfg.Scan.BatchSize <= 0 {
		cfg.Scan.BatchSize = DefaultAppConfig.Scan.BatchSize
	}
	if cfg.Scan.ProbeTimeoutMs <= 0 {
		cfg.Scan.ProbeTimeoutMs = DefaultAppConfig.Scan.ProbeTimeoutMs
	}
	if cfg.Scan.ResolveTimeoutMs <= 0 {
		cfg.Scan.ResolveTimeoutMs = DefaultAppConfig.Scan.ResolveTimeoutMs
	}
	if cfg.Scan.PingBinary == "" {
		cfg.Scan.PingBinary = "ping"
	}
	return &cfg
}

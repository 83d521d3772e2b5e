package scanner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	pinglib "github.com/go-ping/ping"
	"go.uber.org/zap"
)

// ProbeResult is the outcome of one liveness check. A probe never fails
// with an error: genuine failures (missing binary, permission, timeout)
// are logged and degrade to Alive=false so callers can keep scanning.
type ProbeResult struct {
	Ipaddr    string
	Alive     bool
	LatencyMs *float64
}

// Prober performs one bounded-timeout liveness probe against one address.
type Prober interface {
	Probe(ctx context.Context, ipaddr string) ProbeResult
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, ipaddr string) ProbeResult

func (f ProberFunc) Probe(ctx context.Context, ipaddr string) ProbeResult {
	return f(ctx, ipaddr)
}

// pingTimePattern matches the round-trip report of iputils, BSD/macOS and
// busybox ping variants ("time=1.23 ms", "time<1 ms").
var pingTimePattern = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms`)

// PingProber probes by running the system ping binary once per address and
// parsing the round-trip time out of its report. Liveness is decided by
// the parsed latency alone: ping exits non-zero for all sorts of reasons
// (lost packets, DUP replies, name warnings) that do not mean the probe
// itself broke.
type PingProber struct {
	Binary  string
	Timeout time.Duration
}

// NewPingProber returns a PingProber with defaults filled in.
func NewPingProber(binary string, timeout time.Duration) *PingProber {
	if binary == "" {
		binary = "ping"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingProber{Binary: binary, Timeout: timeout}
}

func (p *PingProber) Probe(ctx context.Context, ipaddr string) ProbeResult {
	res := ProbeResult{Ipaddr: ipaddr}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	secs := int(p.Timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	cmd := exec.CommandContext(ctx, p.Binary, "-c", "1", "-W", strconv.Itoa(secs), ipaddr)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if ms, ok := parsePingLatency(out.String()); ok {
		res.Alive = true
		res.LatencyMs = &ms
		return res
	}

	// No latency in the report: decide between ordinary unreachability and
	// a genuine probe failure worth surfacing in the logs.
	switch {
	case runErr == nil:
		// clean exit but nothing parseable, treat as unreachable
		zap.L().Debug("probe reported no latency", zap.String("ip", ipaddr))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		zap.L().Warn("probe timed out", zap.String("ip", ipaddr), zap.Duration("timeout", p.Timeout))
	case errors.Is(runErr, exec.ErrNotFound):
		zap.L().Error("ping binary not found", zap.String("binary", p.Binary))
	case strings.Contains(strings.ToLower(out.String()), "permission denied"),
		strings.Contains(strings.ToLower(out.String()), "operation not permitted"):
		zap.L().Error("probe lacks raw socket permission", zap.String("ip", ipaddr))
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// ordinary "host unreachable" style exit
			zap.L().Debug("probe unreachable", zap.String("ip", ipaddr), zap.Int("exit", exitErr.ExitCode()))
		} else {
			zap.L().Warn("probe spawn failed", zap.String("ip", ipaddr), zap.Error(runErr))
		}
	}
	return res
}

// parsePingLatency extracts the first round-trip latency in milliseconds
// from a ping report.
func parsePingLatency(report string) (float64, bool) {
	m := pingTimePattern.FindStringSubmatch(report)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// LibraryProber probes with the go-ping library in unprivileged (UDP)
// mode, for hosts where no ping binary is available. Selected with
// scan.prober: library.
type LibraryProber struct {
	Timeout time.Duration
}

func NewLibraryProber(timeout time.Duration) *LibraryProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &LibraryProber{Timeout: timeout}
}

func (p *LibraryProber) Probe(ctx context.Context, ipaddr string) ProbeResult {
	res := ProbeResult{Ipaddr: ipaddr}

	pinger, err := pinglib.NewPinger(ipaddr)
	if err != nil {
		zap.L().Warn("probe: NewPinger failed", zap.String("ip", ipaddr), zap.Error(err))
		return res
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pinger.Run(); err != nil {
			zap.L().Debug("probe: ping run failed", zap.String("ip", ipaddr), zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		ms := float64(stats.AvgRtt.Microseconds()) / 1000.0
		res.Alive = true
		res.LatencyMs = &ms
	}
	return res
}

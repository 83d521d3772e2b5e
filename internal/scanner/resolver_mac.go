package scanner

import (
	"context"
	"net"
	"regexp"
	"strings"
	"time"
)

var macPattern = regexp.MustCompile(`(?i)\b([0-9a-f]{2}(?::[0-9a-f]{2}){5})\b`)

// newMacChain builds the MAC fallback chain: forced neighbor query,
// passive neighbor read, arp-scan (when installed), legacy arp table.
func newMacChain(timeout time.Duration) *ResolverChain {
	return &ResolverChain{
		kind:    "mac",
		timeout: timeout,
		accept:  acceptMac,
		steps: []resolveStep{
			{name: "neigh-probe", fn: resolveMacNeighborProbe},
			{name: "neigh", fn: resolveMacNeighbor},
			{name: "arp-scan", fn: resolveMacArpScan},
			{name: "arp", fn: resolveMacArpTable},
		},
	}
}

// acceptMac rejects the all-zero placeholder some neighbor tables report
// for unresolved entries.
func acceptMac(mac string) bool {
	return strings.Trim(strings.ToLower(mac), "0:") != ""
}

// resolveMacNeighborProbe actively solicits a neighbor entry by poking a
// throwaway UDP datagram at the host, then reads the kernel table. The
// datagram is never answered; it only forces ARP resolution.
func resolveMacNeighborProbe(ctx context.Context, ipaddr string) (string, error) {
	conn, err := net.DialTimeout("udp", net.JoinHostPort(ipaddr, "9"), 500*time.Millisecond)
	if err == nil {
		_, _ = conn.Write([]byte{0})
		_ = conn.Close()
	}
	// give the kernel a beat to complete resolution
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return resolveMacNeighbor(ctx, ipaddr)
}

// resolveMacNeighbor reads the neighbor table without soliciting.
func resolveMacNeighbor(ctx context.Context, ipaddr string) (string, error) {
	out, err := runCommand(ctx, "ip", "neigh", "show", ipaddr)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "FAILED") || strings.Contains(line, "INCOMPLETE") {
			continue
		}
		if m := macPattern.FindString(line); m != "" {
			return strings.ToLower(m), nil
		}
	}
	return "", nil
}

// resolveMacArpScan asks the arp-scan tool directly. Only useful when the
// binary is installed and the process may open raw sockets; failures are
// swallowed by the chain like any other step.
func resolveMacArpScan(ctx context.Context, ipaddr string) (string, error) {
	out, err := runCommand(ctx, "arp-scan", "--quiet", "--numeric", ipaddr)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), ipaddr) {
			continue
		}
		if m := macPattern.FindString(line); m != "" {
			return strings.ToLower(m), nil
		}
	}
	return "", nil
}

// resolveMacArpTable queries the legacy arp table.
func resolveMacArpTable(ctx context.Context, ipaddr string) (string, error) {
	out, err := runCommand(ctx, "arp", "-n", ipaddr)
	if err != nil {
		return "", err
	}
	if m := macPattern.FindString(out); m != "" {
		return strings.ToLower(m), nil
	}
	return "", nil
}

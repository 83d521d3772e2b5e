package scanner

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gosnmp "github.com/gosnmp/gosnmp"
)

const snmpSysNameOid = ".1.3.6.1.2.1.1.5.0"

// hostsFilePath is a hook for tests.
var hostsFilePath = "/etc/hosts"

// newHostnameChain builds the hostname fallback chain: reverse DNS, name
// service lookup, static hosts file, NetBIOS, and optionally SNMP sysName
// when a community string is configured.
func newHostnameChain(timeout time.Duration, snmpCommunity string) *ResolverChain {
	steps := []resolveStep{
		{name: "dns", fn: resolveHostnameDNS},
		{name: "getent", fn: resolveHostnameGetent},
		{name: "hostsfile", fn: resolveHostnameHostsFile},
		{name: "netbios", fn: resolveHostnameNetBIOS},
	}
	if snmpCommunity != "" {
		steps = append(steps, resolveStep{
			name: "snmp",
			fn: func(ctx context.Context, ipaddr string) (string, error) {
				return resolveHostnameSnmp(ctx, ipaddr, snmpCommunity)
			},
		})
	}
	return &ResolverChain{
		kind:    "hostname",
		timeout: timeout,
		steps:   steps,
		accept:  acceptHostname,
	}
}

// acceptHostname rejects synthetic reverse-zone echoes that some resolvers
// hand back instead of a real answer.
func acceptHostname(name string) bool {
	lower := strings.ToLower(name)
	return !strings.Contains(lower, ".in-addr.arpa") && !strings.Contains(lower, ".ip6.arpa")
}

func resolveHostnameDNS(ctx context.Context, ipaddr string) (string, error) {
	var r net.Resolver
	names, err := r.LookupAddr(ctx, ipaddr)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		n = strings.TrimSuffix(n, ".")
		if n != "" && n != ipaddr {
			return n, nil
		}
	}
	return "", nil
}

func resolveHostnameGetent(ctx context.Context, ipaddr string) (string, error) {
	out, err := runCommand(ctx, "getent", "hosts", ipaddr)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) >= 2 {
		return fields[1], nil
	}
	return "", nil
}

func resolveHostnameHostsFile(_ context.Context, ipaddr string) (string, error) {
	data, err := os.ReadFile(hostsFilePath)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == ipaddr {
			return fields[1], nil
		}
	}
	return "", nil
}

// resolveHostnameNetBIOS queries the host's NetBIOS name table. The first
// unique <00> workstation entry is the machine name.
func resolveHostnameNetBIOS(ctx context.Context, ipaddr string) (string, error) {
	out, err := runCommand(ctx, "nmblookup", "-A", ipaddr)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "<00>") || strings.Contains(line, "<GROUP>") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] != "" {
			return strings.ToLower(fields[0]), nil
		}
	}
	return "", nil
}

func resolveHostnameSnmp(ctx context.Context, ipaddr, community string) (string, error) {
	params := &gosnmp.GoSNMP{
		Target:    ipaddr,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Second,
		Retries:   1,
		Context:   ctx,
	}
	if err := params.Connect(); err != nil {
		return "", err
	}
	defer params.Conn.Close()

	result, err := params.Get([]string{snmpSysNameOid})
	if err != nil || result == nil || len(result.Variables) == 0 {
		return "", err
	}
	if b, ok := result.Variables[0].Value.([]byte); ok {
		return string(b), nil
	}
	return "", nil
}

// commonPorts are probed on full scans when port checking is enabled; the
// open set lands in the device's extra info payload.
var commonPorts = []int{22, 80, 443, 445, 8080}

func checkCommonPorts(ctx context.Context, ipaddr string, timeout time.Duration) []int {
	var open []int
	for _, p := range commonPorts {
		if ctx.Err() != nil {
			break
		}
		addr := net.JoinHostPort(ipaddr, strconv.Itoa(p))
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err == nil {
			_ = conn.Close()
			open = append(open, p)
		}
	}
	return open
}

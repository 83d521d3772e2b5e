package scanner

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/c-robinson/iplib"
	"github.com/pkg/errors"
)

const (
	// maxCIDRHosts caps how many addresses a /16../23 request may expand to.
	// Requests above the cap fail loudly, they are never truncated.
	maxCIDRHosts = 1000

	// maxDashHosts caps a dash range at one /24 worth of hosts.
	maxDashHosts = 255
)

// ParseRange expands a range specification into an ordered, de-duplicated
// list of target addresses ready for probing. Three syntaxes are accepted:
//
//	CIDR        192.168.1.0/24
//	dash range  192.168.1.10-20
//	single IP   192.168.1.5
//
// Only ranges fully contained in RFC1918 private space (10/8, 172.16/12,
// 192.168/16) are allowed. All rejections are validation errors raised
// before any probe is issued.
func ParseRange(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, validationErrorf("empty range")
	}

	switch {
	case strings.Contains(spec, "/"):
		return parseCIDRRange(spec)
	case strings.Contains(spec, "-"):
		return parseDashRange(spec)
	default:
		return parseSingleAddress(spec)
	}
}

func parseCIDRRange(spec string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(spec)
	if err != nil {
		return nil, validationErrorf("invalid CIDR %q", spec)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, validationErrorf("only IPv4 ranges are supported: %q", spec)
	}
	prefix, _ := ipnet.Mask.Size()

	switch {
	case prefix == 24:
		// handled below, 254 usable hosts
	case prefix >= 16 && prefix <= 23:
		// handled below, subject to maxCIDRHosts
	case prefix < 16:
		return nil, validationErrorf("prefix /%d requests too many addresses (max %d)", prefix, maxCIDRHosts)
	default:
		return nil, errors.Wrapf(ErrUnsupportedPrefix, "prefix /%d", prefix)
	}

	n := iplib.NewNet4(ip4, prefix)
	if err := requirePrivate(spec, n.NetworkAddress(), n.BroadcastAddress()); err != nil {
		return nil, err
	}

	count := n.Count()
	if prefix != 24 && count > maxCIDRHosts {
		return nil, validationErrorf("range %q expands to %d addresses (max %d)", spec, count, maxCIDRHosts)
	}

	// Enumerate usable host addresses of the actual subnet; network and
	// broadcast addresses are excluded by iplib.
	hosts := n.Enumerate(0, 0)
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.String())
	}
	return dedupe(out), nil
}

func parseDashRange(spec string) ([]string, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, validationErrorf("invalid range %q", spec)
	}

	start := net.ParseIP(strings.TrimSpace(parts[0]))
	if start == nil || start.To4() == nil {
		return nil, validationErrorf("invalid start address in %q", spec)
	}
	start = start.To4()

	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || end < 1 || end > 255 {
		return nil, validationErrorf("end of range must be an integer in 1-255: %q", spec)
	}
	if int(start[3]) > end {
		return nil, validationErrorf("range end %d is below start octet %d", end, start[3])
	}
	if end-int(start[3])+1 > maxDashHosts {
		return nil, validationErrorf("range %q expands to more than %d addresses", spec, maxDashHosts)
	}

	last := iplib.Uint32ToIP4(iplib.IP4ToUint32(start) + uint32(end-int(start[3])))
	if err := requirePrivate(spec, start, last); err != nil {
		return nil, err
	}

	out := make([]string, 0, end-int(start[3])+1)
	for cur := start; ; cur = iplib.NextIP(cur) {
		out = append(out, cur.String())
		if cur.Equal(last) {
			break
		}
	}
	return dedupe(out), nil
}

func parseSingleAddress(spec string) ([]string, error) {
	ip := net.ParseIP(spec)
	if ip == nil || ip.To4() == nil {
		return nil, validationErrorf("invalid address %q", spec)
	}
	ip = ip.To4()
	if err := requirePrivate(spec, ip, ip); err != nil {
		return nil, err
	}
	return []string{ip.String()}, nil
}

// requirePrivate rejects any range not fully contained in RFC1918 space.
// Checking both ends is sufficient because the private blocks are
// themselves contiguous CIDR blocks.
func requirePrivate(spec string, first, last net.IP) error {
	for _, b := range privateBlocks {
		if b.Contains(first) && b.Contains(last) {
			return nil
		}
	}
	return validationErrorf("range %q is outside private address space", spec)
}

var privateBlocks = func() []*net.IPNet {
	blocks := make([]*net.IPNet, 0, 3)
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad private block %s: %v", cidr, err))
		}
		blocks = append(blocks, n)
	}
	return blocks
}()

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := addrs[:0]
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// ip4Value returns the 32-bit integer value of a dotted-quad address, used
// for numeric ordering. Unparseable addresses sort first.
func ip4Value(s string) uint32 {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0
	}
	return iplib.IP4ToUint32(ip.To4())
}

package scanner

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// resolveStep is one strategy in an ordered fallback chain. A step either
// yields a usable value or is skipped; step errors never stop the chain.
type resolveStep struct {
	name string
	fn   func(ctx context.Context, ipaddr string) (string, error)
}

// ResolverChain runs its steps in order until one returns a value the
// accept filter likes. Every step gets its own bounded timeout.
type ResolverChain struct {
	kind    string
	timeout time.Duration
	steps   []resolveStep
	accept  func(string) bool
}

// Resolve returns the first accepted value and the name of the step that
// produced it, or empty strings when the whole chain is exhausted.
func (c *ResolverChain) Resolve(ctx context.Context, ipaddr string) (value, source string) {
	for _, step := range c.steps {
		stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
		v, err := step.fn(stepCtx, ipaddr)
		cancel()
		if err != nil {
			zap.L().Debug("resolver step failed",
				zap.String("kind", c.kind),
				zap.String("step", step.name),
				zap.String("ip", ipaddr),
				zap.Error(err))
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || (c.accept != nil && !c.accept(v)) {
			continue
		}
		return v, step.name
	}
	return "", ""
}

// VendorLookup maps a MAC address to its registered vendor name.
type VendorLookup interface {
	Lookup(mac string) (vendor string, ok bool)
}

// Enrichment carries everything the resolvers learned about one live host.
// Empty fields mean "nothing new": the reconciler keeps whatever the
// record already holds.
type Enrichment struct {
	Mac            string
	Hostname       string
	HostnameSource string
	Vendor         string
	VendorSource   string
	OpenPorts      []int
}

// Enricher derives MAC, hostname and vendor for a live host. It only runs
// in full scan mode and only for addresses that answered the probe.
type Enricher struct {
	macChain      *ResolverChain
	hostnameChain *ResolverChain
	vendors       VendorLookup
	portCheck     bool
	portTimeout   time.Duration
}

// EnricherConfig configures a resolver stack.
type EnricherConfig struct {
	ResolveTimeout time.Duration
	SnmpCommunity  string
	PortCheck      bool
}

// NewEnricher builds the default resolver stack.
func NewEnricher(cfg EnricherConfig, vendors VendorLookup) *Enricher {
	timeout := cfg.ResolveTimeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Enricher{
		macChain:      newMacChain(timeout),
		hostnameChain: newHostnameChain(timeout, cfg.SnmpCommunity),
		vendors:       vendors,
		portCheck:     cfg.PortCheck,
		portTimeout:   timeout,
	}
}

// Enrich runs the MAC and hostname chains concurrently, then derives the
// vendor from the resolved MAC. Chain exhaustion yields empty fields, not
// errors.
func (e *Enricher) Enrich(ctx context.Context, ipaddr string) *Enrichment {
	enr := &Enrichment{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		enr.Mac, _ = e.macChain.Resolve(gctx, ipaddr)
		return nil
	})
	g.Go(func() error {
		enr.Hostname, enr.HostnameSource = e.hostnameChain.Resolve(gctx, ipaddr)
		return nil
	})
	if e.portCheck {
		g.Go(func() error {
			enr.OpenPorts = checkCommonPorts(gctx, ipaddr, e.portTimeout)
			return nil
		})
	}
	_ = g.Wait()

	if enr.Mac != "" && e.vendors != nil {
		if vendor, ok := e.vendors.Lookup(enr.Mac); ok {
			enr.Vendor = vendor
			enr.VendorSource = "oui"
		}
	}
	return enr
}

// runCommand executes an external tool and returns its combined output.
// Missing binaries count as an ordinary step failure.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

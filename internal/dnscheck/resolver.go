// Package dnscheck resolves custom-domain hostnames for ownership
// verification before certificate issuance.
package dnscheck

import (
	"context"
	"net"
	"time"
)

const lookupTimeout = 5 * time.Second

// Resolver wraps the system resolver with a bounded lookup timeout.
type Resolver struct {
	inner *net.Resolver
}

func New() *Resolver {
	return &Resolver{inner: net.DefaultResolver}
}

// LookupHost returns the host's A/AAAA records.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	return r.inner.LookupHost(ctx, host)
}

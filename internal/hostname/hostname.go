// Package hostname implements the optional reverse-DNS enrichment step
// spec.md §4.3 describes: it runs after a sweep and updates Device.Hostname
// in place. Failure is silent, per spec.md.
package hostname

import (
	"context"
	"net"
	"strings"
	"time"
)

const lookupTimeout = 2 * time.Second

// Resolve performs a best-effort reverse lookup of ip, returning "" on any
// failure (no match, timeout, resolver error) rather than propagating it.
func Resolve(ctx context.Context, ip net.IP) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, ip.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// Package api defines the record shapes persisted by the coordinator's
// registries. Records are validated at the registry boundary; nothing in
// storage is trusted implicitly.
package api

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// HostRecord describes one registered virtual host.
type HostRecord struct {
	// Name uniquely identifies the host.
	Name string `json:"name"`
	// Address is the primary address with prefix, e.g. "10.0.0.5/24".
	Address string `json:"address"`
	// Attachment names the router or bridge the host connects to.
	Attachment string `json:"attachment"`
	// HWAddress is the host's hardware address in canonical lower-case
	// colon form.
	HWAddress string            `json:"hw_address"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the record's shape and canonicalizes Address and
// HWAddress in place.
func (r *HostRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("host record: name required")
	}
	prefix, err := netip.ParsePrefix(strings.TrimSpace(r.Address))
	if err != nil {
		return fmt.Errorf("host record %q: address %q: %w", r.Name, r.Address, err)
	}
	r.Address = prefix.String()
	if strings.TrimSpace(r.Attachment) == "" {
		return fmt.Errorf("host record %q: attachment required", r.Name)
	}
	hw, err := net.ParseMAC(strings.TrimSpace(r.HWAddress))
	if err != nil {
		return fmt.Errorf("host record %q: hardware address %q: %w", r.Name, r.HWAddress, err)
	}
	r.HWAddress = hw.String()
	return nil
}

// LeaseEntry is one job's reference-counted claim on a host.
type LeaseEntry struct {
	JobID       string    `json:"job_id"`
	PID         int       `json:"pid"`
	JobClass    string    `json:"job_class"`
	Priority    string    `json:"priority,omitempty"`
	AllocatedAt time.Time `json:"allocated_at"`
	Router      string    `json:"router"`
}

// NeighborLeaseEntry is one job's claim on a transient address-resolution
// entry for (host, neighbor address).
type NeighborLeaseEntry struct {
	JobID       string    `json:"job_id"`
	PID         int       `json:"pid"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// NeighborKey builds the composite registry key for a neighbor lease.
func NeighborKey(host, neighborAddr string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("neighbor lease: host required")
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(neighborAddr))
	if err != nil {
		return "", fmt.Errorf("neighbor lease: address %q: %w", neighborAddr, err)
	}
	return host + "|" + addr.String(), nil
}

// SplitNeighborKey is the inverse of NeighborKey.
func SplitNeighborKey(key string) (host, neighborAddr string, ok bool) {
	host, neighborAddr, ok = strings.Cut(key, "|")
	return
}

package simcoord

import (
	"context"
	"os"
	"strings"

	"github.com/ksparavec/simcoord/api"
)

type leaseSet map[string][]api.LeaseEntry

// LeaseRequest describes one job's claim on a source host.
type LeaseRequest struct {
	JobID    string
	Host     string
	JobClass string
	Router   string
	Priority string
	// PID defaults to the calling process when zero.
	PID int
}

func (r *LeaseRequest) validate() error {
	r.JobID = strings.TrimSpace(r.JobID)
	r.Host = strings.TrimSpace(r.Host)
	r.Router = strings.TrimSpace(r.Router)
	if r.JobID == "" {
		return failuref(CodeInvalid, "lease request: job id required")
	}
	if r.Host == "" {
		return failuref(CodeInvalid, "lease request: host required")
	}
	if r.Router == "" {
		return failuref(CodeInvalid, "lease request: router required")
	}
	if r.PID == 0 {
		r.PID = os.Getpid()
	}
	return nil
}

// AcquireSourceHostLease appends a lease entry for the requesting job and
// returns the new reference count. The host must already exist in the
// physical registry. By calling convention the job already holds the
// router lock for req.Router; that is enforced by the calling protocol,
// not re-verified here.
func (c *Coordinator) AcquireSourceHostLease(ctx context.Context, req LeaseRequest) (int, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	hosts := hostSet{}
	if err := c.store.Load(registryHosts, &hosts); err != nil {
		return 0, classifyStoreErr(err)
	}
	if _, ok := hosts[req.Host]; !ok {
		return 0, failuref(CodeNotFound, "host %q not registered", req.Host)
	}

	count := 0
	err := c.withRegistryLock(ctx, lockHostLeases, c.cfg.HostLeaseTimeout, func() error {
		leases := leaseSet{}
		if err := c.store.Load(registryHostLeases, &leases); err != nil {
			return classifyStoreErr(err)
		}
		entry := api.LeaseEntry{
			JobID:       req.JobID,
			PID:         req.PID,
			JobClass:    req.JobClass,
			Priority:    req.Priority,
			AllocatedAt: c.clock.Now(),
			Router:      req.Router,
		}
		leases[req.Host] = append(leases[req.Host], entry)
		if err := c.store.Save(registryHostLeases, leases); err != nil {
			return classifyStoreErr(err)
		}
		count = len(leases[req.Host])
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.opLogger(ctx).Info("lease.host.acquired",
		"host", req.Host,
		"job_id", req.JobID,
		"job_class", req.JobClass,
		"router", req.Router,
		"ref_count", count,
	)
	c.journal.record(ctx, "acquire_host_lease", map[string]any{
		"host":      req.Host,
		"job_id":    req.JobID,
		"ref_count": count,
	})
	return count, nil
}

// ReleaseSourceHostLease removes the lease entry held by jobID on host.
// The boolean reports should-delete: the reference count reached zero and
// the caller may now tear down the physical host. A missing entry is a
// NotFound failure — it indicates a double release or a mismatched job id.
func (c *Coordinator) ReleaseSourceHostLease(ctx context.Context, jobID, host string) (int, bool, error) {
	count := 0
	shouldDelete := false
	err := c.withRegistryLock(ctx, lockHostLeases, c.cfg.HostLeaseTimeout, func() error {
		leases := leaseSet{}
		if err := c.store.Load(registryHostLeases, &leases); err != nil {
			return classifyStoreErr(err)
		}
		entries, ok := leases[host]
		if !ok {
			return failuref(CodeNotFound, "no leases recorded for host %q", host)
		}
		idx := -1
		for i, entry := range entries {
			if entry.JobID == jobID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return failuref(CodeNotFound, "job %q holds no lease on host %q", jobID, host)
		}
		entries = append(entries[:idx], entries[idx+1:]...)
		if len(entries) == 0 {
			// The key disappears exactly when the count reaches zero.
			delete(leases, host)
			shouldDelete = true
		} else {
			leases[host] = entries
		}
		if err := c.store.Save(registryHostLeases, leases); err != nil {
			return classifyStoreErr(err)
		}
		count = len(entries)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	c.opLogger(ctx).Info("lease.host.released",
		"host", host,
		"job_id", jobID,
		"ref_count", count,
		"should_delete", shouldDelete,
	)
	c.journal.record(ctx, "release_host_lease", map[string]any{
		"host":          host,
		"job_id":        jobID,
		"ref_count":     count,
		"should_delete": shouldDelete,
	})
	return count, shouldDelete, nil
}

// GetHostLeaseCount returns the current reference count for host. Pure
// read; zero when no leases exist.
func (c *Coordinator) GetHostLeaseCount(ctx context.Context, host string) (int, error) {
	leases := leaseSet{}
	if err := c.store.Load(registryHostLeases, &leases); err != nil {
		return 0, classifyStoreErr(err)
	}
	return len(leases[host]), nil
}

// ListHostLeases returns every lease entry keyed by host. Pure read.
func (c *Coordinator) ListHostLeases(ctx context.Context) (map[string][]api.LeaseEntry, error) {
	leases := leaseSet{}
	if err := c.store.Load(registryHostLeases, &leases); err != nil {
		return nil, classifyStoreErr(err)
	}
	return leases, nil
}

package simcoord

import (
	"context"
	"os"
	"strings"

	"github.com/ksparavec/simcoord/api"
)

type neighborSet map[string][]api.NeighborLeaseEntry

// NeighborLeaseRequest describes one job's claim on a transient
// address-resolution entry.
type NeighborLeaseRequest struct {
	JobID        string
	Host         string
	NeighborAddr string
	// PID defaults to the calling process when zero.
	PID int
}

// AcquireNeighborLease reference-counts the (host, neighbor address) entry
// and returns the new count. Same shape as host leases: multiple jobs may
// hold the lease concurrently; the entry stays installed while any remain.
func (c *Coordinator) AcquireNeighborLease(ctx context.Context, req NeighborLeaseRequest) (int, error) {
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		return 0, failuref(CodeInvalid, "neighbor lease: job id required")
	}
	key, err := api.NeighborKey(req.Host, req.NeighborAddr)
	if err != nil {
		return 0, failuref(CodeInvalid, "%v", err)
	}
	if req.PID == 0 {
		req.PID = os.Getpid()
	}

	count := 0
	err = c.withRegistryLock(ctx, lockNeighborLeases, c.cfg.NeighborLeaseTimeout, func() error {
		neighbors := neighborSet{}
		if err := c.store.Load(registryNeighborLeases, &neighbors); err != nil {
			return classifyStoreErr(err)
		}
		neighbors[key] = append(neighbors[key], api.NeighborLeaseEntry{
			JobID:       req.JobID,
			PID:         req.PID,
			AllocatedAt: c.clock.Now(),
		})
		if err := c.store.Save(registryNeighborLeases, neighbors); err != nil {
			return classifyStoreErr(err)
		}
		count = len(neighbors[key])
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.opLogger(ctx).Info("lease.neighbor.acquired",
		"host", req.Host,
		"neighbor", req.NeighborAddr,
		"job_id", req.JobID,
		"ref_count", count,
	)
	c.journal.record(ctx, "acquire_neighbor_lease", map[string]any{
		"key":       key,
		"job_id":    req.JobID,
		"ref_count": count,
	})
	return count, nil
}

// ReleaseNeighborLease drops jobID's claim on (host, neighbor address).
// The boolean reports that the last reference is gone and the caller may
// remove the physical entry. A missing claim is a NotFound failure.
func (c *Coordinator) ReleaseNeighborLease(ctx context.Context, jobID, host, neighborAddr string) (int, bool, error) {
	key, err := api.NeighborKey(host, neighborAddr)
	if err != nil {
		return 0, false, failuref(CodeInvalid, "%v", err)
	}
	count := 0
	shouldDelete := false
	err = c.withRegistryLock(ctx, lockNeighborLeases, c.cfg.NeighborLeaseTimeout, func() error {
		neighbors := neighborSet{}
		if err := c.store.Load(registryNeighborLeases, &neighbors); err != nil {
			return classifyStoreErr(err)
		}
		entries, ok := neighbors[key]
		if !ok {
			return failuref(CodeNotFound, "no neighbor leases for %q", key)
		}
		idx := -1
		for i, entry := range entries {
			if entry.JobID == jobID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return failuref(CodeNotFound, "job %q holds no neighbor lease on %q", jobID, key)
		}
		entries = append(entries[:idx], entries[idx+1:]...)
		if len(entries) == 0 {
			delete(neighbors, key)
			shouldDelete = true
		} else {
			neighbors[key] = entries
		}
		if err := c.store.Save(registryNeighborLeases, neighbors); err != nil {
			return classifyStoreErr(err)
		}
		count = len(entries)
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	c.opLogger(ctx).Info("lease.neighbor.released",
		"host", host,
		"neighbor", neighborAddr,
		"job_id", jobID,
		"ref_count", count,
		"should_delete", shouldDelete,
	)
	c.journal.record(ctx, "release_neighbor_lease", map[string]any{
		"key":           key,
		"job_id":        jobID,
		"ref_count":     count,
		"should_delete": shouldDelete,
	})
	return count, shouldDelete, nil
}

// GetNeighborLeaseCount returns the reference count for (host, neighbor
// address). Pure read.
func (c *Coordinator) GetNeighborLeaseCount(ctx context.Context, host, neighborAddr string) (int, error) {
	key, err := api.NeighborKey(host, neighborAddr)
	if err != nil {
		return 0, failuref(CodeInvalid, "%v", err)
	}
	neighbors := neighborSet{}
	if err := c.store.Load(registryNeighborLeases, &neighbors); err != nil {
		return 0, classifyStoreErr(err)
	}
	return len(neighbors[key]), nil
}

// ListNeighborLeases returns every neighbor lease keyed by the composite
// "host|address" key. Pure read.
func (c *Coordinator) ListNeighborLeases(ctx context.Context) (map[string][]api.NeighborLeaseEntry, error) {
	neighbors := neighborSet{}
	if err := c.store.Load(registryNeighborLeases, &neighbors); err != nil {
		return nil, classifyStoreErr(err)
	}
	return neighbors, nil
}

package simcoord_test

import (
	"context"
	"testing"

	simcoord "github.com/ksparavec/simcoord"
)

func leaseReq(jobID, host string) simcoord.LeaseRequest {
	return simcoord.LeaseRequest{
		JobID:    jobID,
		Host:     host,
		JobClass: "quick",
		Router:   "r1",
	}
}

func TestHostLeaseLifecycle(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	count, err := c.AcquireSourceHostLease(ctx, leaseReq("job1", "h1"))
	if err != nil || count != 1 {
		t.Fatalf("first acquire = %d, %v; want 1", count, err)
	}
	count, err = c.AcquireSourceHostLease(ctx, leaseReq("job2", "h1"))
	if err != nil || count != 2 {
		t.Fatalf("second acquire = %d, %v; want 2", count, err)
	}
	if got, _ := c.GetHostLeaseCount(ctx, "h1"); got != 2 {
		t.Fatalf("GetHostLeaseCount = %d, want 2", got)
	}

	count, shouldDelete, err := c.ReleaseSourceHostLease(ctx, "job1", "h1")
	if err != nil || count != 1 || shouldDelete {
		t.Fatalf("release job1 = (%d, %v, %v); want (1, false, nil)", count, shouldDelete, err)
	}
	count, shouldDelete, err = c.ReleaseSourceHostLease(ctx, "job2", "h1")
	if err != nil || count != 0 || !shouldDelete {
		t.Fatalf("release job2 = (%d, %v, %v); want (0, true, nil)", count, shouldDelete, err)
	}

	// The key disappears exactly when the count reaches zero.
	leases, err := c.ListHostLeases(ctx)
	if err != nil {
		t.Fatalf("ListHostLeases: %v", err)
	}
	if _, ok := leases["h1"]; ok {
		t.Fatal("lease key survived the final release")
	}
	if got, _ := c.GetHostLeaseCount(ctx, "h1"); got != 0 {
		t.Fatalf("GetHostLeaseCount after teardown = %d, want 0", got)
	}
}

func TestAcquireLeaseRequiresRegisteredHost(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	_, err := c.AcquireSourceHostLease(context.Background(), leaseReq("job1", "ghost"))
	if !simcoord.IsNotFound(err) {
		t.Fatalf("lease on unregistered host: %v, want NotFound", err)
	}
}

func TestReleaseLeaseDoubleReleaseIsCallerBug(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))
	if _, err := c.AcquireSourceHostLease(ctx, leaseReq("job1", "h1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, _, err := c.ReleaseSourceHostLease(ctx, "job1", "h1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, _, err := c.ReleaseSourceHostLease(ctx, "job1", "h1"); !simcoord.IsNotFound(err) {
		t.Fatalf("double release error = %v, want NotFound", err)
	}
	if _, _, err := c.ReleaseSourceHostLease(ctx, "nobody", "h1"); !simcoord.IsNotFound(err) {
		t.Fatalf("mismatched job id error = %v, want NotFound", err)
	}
}

func TestSameJobMayHoldMultipleLeaseEntries(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	for i := 0; i < 2; i++ {
		if _, err := c.AcquireSourceHostLease(ctx, leaseReq("job1", "h1")); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	// Each release peels one entry; the count is a reference count, not a
	// per-job flag.
	count, shouldDelete, err := c.ReleaseSourceHostLease(ctx, "job1", "h1")
	if err != nil || count != 1 || shouldDelete {
		t.Fatalf("first release = (%d, %v, %v)", count, shouldDelete, err)
	}
	count, shouldDelete, err = c.ReleaseSourceHostLease(ctx, "job1", "h1")
	if err != nil || count != 0 || !shouldDelete {
		t.Fatalf("second release = (%d, %v, %v)", count, shouldDelete, err)
	}
}

func TestLeaseEntriesCarryMetadata(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	req := leaseReq("job1", "h1")
	req.Priority = "high"
	if _, err := c.AcquireSourceHostLease(ctx, req); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	leases, err := c.ListHostLeases(ctx)
	if err != nil {
		t.Fatalf("ListHostLeases: %v", err)
	}
	entries := leases["h1"]
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.JobID != "job1" || entry.JobClass != "quick" || entry.Priority != "high" || entry.Router != "r1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.PID == 0 || entry.AllocatedAt.IsZero() {
		t.Fatalf("entry missing pid/timestamp: %+v", entry)
	}
}

func TestLeasesVisibleAcrossCoordinators(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)
	ctx := context.Background()
	mustRegister(t, a, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	if _, err := a.AcquireSourceHostLease(ctx, leaseReq("job1", "h1")); err != nil {
		t.Fatalf("acquire via a: %v", err)
	}
	count, err := b.AcquireSourceHostLease(ctx, leaseReq("job2", "h1"))
	if err != nil || count != 2 {
		t.Fatalf("acquire via b = %d, %v; want 2", count, err)
	}
	count, shouldDelete, err := b.ReleaseSourceHostLease(ctx, "job1", "h1")
	if err != nil || count != 1 || shouldDelete {
		t.Fatalf("b releasing a's lease = (%d, %v, %v)", count, shouldDelete, err)
	}
}

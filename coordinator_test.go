package simcoord_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	simcoord "github.com/ksparavec/simcoord"
	"github.com/ksparavec/simcoord/api"
)

func testConfig(t *testing.T) simcoord.Config {
	t.Helper()
	base := t.TempDir()
	return simcoord.Config{
		StateDir: filepath.Join(base, "state"),
		LockDir:  filepath.Join(base, "locks"),
	}
}

func newCoordinator(t *testing.T) *simcoord.Coordinator {
	t.Helper()
	c, err := simcoord.New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// newPair returns two coordinators sharing the same state and lock
// directories, standing in for two independent OS processes: every
// coordination mechanism involved is file-based.
func newPair(t *testing.T) (*simcoord.Coordinator, *simcoord.Coordinator) {
	t.Helper()
	cfg := testConfig(t)
	a, err := simcoord.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := simcoord.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func hostRecord(name, addr, hw string) api.HostRecord {
	return api.HostRecord{
		Name:       name,
		Address:    addr,
		Attachment: "r1",
		HWAddress:  hw,
	}
}

func mustRegister(t *testing.T, c *simcoord.Coordinator, rec api.HostRecord) {
	t.Helper()
	ok, err := c.CheckAndRegisterHost(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("CheckAndRegisterHost(%s) = %v, %v", rec.Name, ok, err)
	}
}

func TestCheckAndRegisterHostAddressCollision(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("hostA", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	ok, err := c.CheckAndRegisterHost(ctx, hostRecord("hostB", "10.0.0.5/24", "aa:bb:cc:00:00:02"))
	if err != nil {
		t.Fatalf("CheckAndRegisterHost: %v", err)
	}
	if ok {
		t.Fatal("second registration at the same address succeeded")
	}

	hosts, err := c.ListAllHosts(ctx)
	if err != nil {
		t.Fatalf("ListAllHosts: %v", err)
	}
	matches := 0
	for _, rec := range hosts {
		if rec.Address == "10.0.0.5/24" {
			matches++
		}
	}
	if matches != 1 {
		t.Fatalf("registry holds %d records for 10.0.0.5/24, want exactly 1", matches)
	}
}

func TestCheckAndRegisterHostNameAndHWCollisions(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("hostA", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	ok, err := c.CheckAndRegisterHost(ctx, hostRecord("hostA", "10.0.0.6/24", "aa:bb:cc:00:00:03"))
	if err != nil || ok {
		t.Fatalf("duplicate name accepted: %v, %v", ok, err)
	}
	ok, err = c.CheckAndRegisterHost(ctx, hostRecord("hostC", "10.0.0.7/24", "AA:BB:CC:00:00:01"))
	if err != nil || ok {
		t.Fatalf("duplicate hardware address accepted despite case difference: %v, %v", ok, err)
	}
}

func TestCheckAndRegisterHostRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	_, err := c.CheckAndRegisterHost(context.Background(), hostRecord("h1", "10.0.0.5", "aa:bb:cc:00:00:01"))
	if err == nil {
		t.Fatal("address without prefix accepted")
	}
}

func TestUnregisterHostIdempotent(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))

	existed, err := c.UnregisterHost(ctx, "h1")
	if err != nil || !existed {
		t.Fatalf("UnregisterHost = %v, %v", existed, err)
	}
	existed, err = c.UnregisterHost(ctx, "h1")
	if err != nil || existed {
		t.Fatalf("second UnregisterHost = %v, %v; want false, nil", existed, err)
	}
	// The slot is reusable afterwards.
	mustRegister(t, c, hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01"))
}

func TestGetHostInfo(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t)
	ctx := context.Background()
	rec := hostRecord("h1", "10.0.0.5/24", "aa:bb:cc:00:00:01")
	rec.Metadata = map[string]string{"role": "probe"}
	mustRegister(t, c, rec)

	got, err := c.GetHostInfo(ctx, "h1")
	if err != nil {
		t.Fatalf("GetHostInfo: %v", err)
	}
	if got.Address != "10.0.0.5/24" || got.Metadata["role"] != "probe" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not stamped at registration")
	}

	_, err = c.GetHostInfo(ctx, "missing")
	if !simcoord.IsNotFound(err) {
		t.Fatalf("GetHostInfo(missing) error = %v, want NotFound", err)
	}
}

// Two coordinators over the same directories race to register conflicting
// hosts; across the whole history at most one record per address may ever
// exist.
func TestConcurrentRegistrationSingleWinner(t *testing.T) {
	t.Parallel()

	a, b := newPair(t)
	coords := []*simcoord.Coordinator{a, b}
	ctx := context.Background()

	const racers = 8
	wins := make(chan string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := hostRecord(
				fmt.Sprintf("host-%d", i),
				"10.0.9.9/24",
				fmt.Sprintf("aa:bb:cc:00:01:%02x", i),
			)
			ok, err := coords[i%len(coords)].CheckAndRegisterHost(ctx, rec)
			if err != nil {
				t.Errorf("racer %d: %v", i, err)
				return
			}
			if ok {
				wins <- rec.Name
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for name := range wins {
		winners = append(winners, name)
	}
	if len(winners) != 1 {
		t.Fatalf("%d racers won the same address: %v", len(winners), winners)
	}
	hosts, err := a.ListAllHosts(ctx)
	if err != nil {
		t.Fatalf("ListAllHosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("registry holds %d records, want 1", len(hosts))
	}
	if _, ok := hosts[winners[0]]; !ok {
		t.Fatalf("winner %q missing from registry", winners[0])
	}
}

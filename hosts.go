package simcoord

import (
	"context"

	"github.com/ksparavec/simcoord/api"
)

type hostSet map[string]api.HostRecord

// CheckAndRegisterHost atomically checks for name, address, and hardware
// address collisions and registers the host when none exist. A collision
// returns false with a nil error: it is a legitimate outcome, not a
// failure. The check and the insert happen inside one critical section, so
// two concurrent callers requesting the same address can never both
// succeed.
func (c *Coordinator) CheckAndRegisterHost(ctx context.Context, rec api.HostRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, failuref(CodeInvalid, "%v", err)
	}
	logger := c.opLogger(ctx)
	registered := false
	err := c.withRegistryLock(ctx, lockHostRegistry, c.cfg.HostRegistryTimeout, func() error {
		hosts := hostSet{}
		if err := c.store.Load(registryHosts, &hosts); err != nil {
			return classifyStoreErr(err)
		}
		if conflict, field := findCollision(hosts, rec); conflict != "" {
			logger.Info("host.register.collision",
				"host", rec.Name,
				"conflict_with", conflict,
				"field", field,
			)
			return nil
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = c.clock.Now()
		}
		hosts[rec.Name] = rec
		if err := c.store.Save(registryHosts, hosts); err != nil {
			return classifyStoreErr(err)
		}
		registered = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if registered {
		logger.Info("host.register.ok",
			"host", rec.Name,
			"address", rec.Address,
			"attachment", rec.Attachment,
		)
		c.journal.record(ctx, "register_host", map[string]any{
			"host":    rec.Name,
			"address": rec.Address,
		})
	}
	return registered, nil
}

// findCollision returns the name of an existing record conflicting with
// rec and which field collided.
func findCollision(hosts hostSet, rec api.HostRecord) (conflict, field string) {
	if _, exists := hosts[rec.Name]; exists {
		return rec.Name, "name"
	}
	for name, existing := range hosts {
		if existing.Address == rec.Address {
			return name, "address"
		}
		if existing.HWAddress == rec.HWAddress {
			return name, "hw_address"
		}
	}
	return "", ""
}

// UnregisterHost removes the named host record. Idempotent; the boolean
// reports whether the record existed.
func (c *Coordinator) UnregisterHost(ctx context.Context, name string) (bool, error) {
	existed := false
	err := c.withRegistryLock(ctx, lockHostRegistry, c.cfg.HostRegistryTimeout, func() error {
		hosts := hostSet{}
		if err := c.store.Load(registryHosts, &hosts); err != nil {
			return classifyStoreErr(err)
		}
		if _, ok := hosts[name]; !ok {
			return nil
		}
		delete(hosts, name)
		if err := c.store.Save(registryHosts, hosts); err != nil {
			return classifyStoreErr(err)
		}
		existed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if existed {
		c.opLogger(ctx).Info("host.unregister.ok", "host", name)
		c.journal.record(ctx, "unregister_host", map[string]any{"host": name})
	}
	return existed, nil
}

// GetHostInfo returns the named host record. Pure read, no lock: snapshot
// reads are self-consistent because writes replace the file atomically.
func (c *Coordinator) GetHostInfo(ctx context.Context, name string) (*api.HostRecord, error) {
	hosts := hostSet{}
	if err := c.store.Load(registryHosts, &hosts); err != nil {
		return nil, classifyStoreErr(err)
	}
	rec, ok := hosts[name]
	if !ok {
		return nil, failuref(CodeNotFound, "host %q not registered", name)
	}
	return &rec, nil
}

// ListAllHosts returns every registered host keyed by name. Pure read.
func (c *Coordinator) ListAllHosts(ctx context.Context) (map[string]api.HostRecord, error) {
	hosts := hostSet{}
	if err := c.store.Load(registryHosts, &hosts); err != nil {
		return nil, classifyStoreErr(err)
	}
	return hosts, nil
}

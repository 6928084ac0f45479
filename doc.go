// Package simcoord is the registry and lock coordinator for a
// single-machine network-simulation platform. Many unrelated, short-lived
// OS processes provision and tear down virtual hosts, routers, and shared
// resources; this package gives them atomic check-and-register semantics,
// reference-counted leases, ordered multi-resource exclusive locking, and
// blocking wait-on-release, all backed by crash-safe file storage.
//
// The coordinator decides; callers act. A caller registers a host here
// first and only creates the physical namespace on a true result; it holds
// the router lock for the full duration of work touching that router; it
// tears down a physical host only when a lease release reports that the
// last reference is gone.
package simcoord

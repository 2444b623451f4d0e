package vmm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLeaseHeld indicates another workflow currently holds the VM's lease.
var ErrLeaseHeld = errors.New("VM lease already held")

// LeaseRegistry serializes workflow access per VM name.
//
// Snapshot create/revert mutates shared disk state, so at most one workflow
// may hold a given VM's lease at a time. Workflows against different VMs
// proceed independently.
type LeaseRegistry struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLeaseRegistry creates an empty lease registry.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{
		slots: make(map[string]chan struct{}),
	}
}

func (r *LeaseRegistry) slot(vmName string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[vmName]
	if !ok {
		s = make(chan struct{}, 1)
		r.slots[vmName] = s
	}
	return s
}

// Acquire blocks until the lease for vmName is free or ctx is done.
func (r *LeaseRegistry) Acquire(ctx context.Context, vmName string) (*Lease, error) {
	s := r.slot(vmName)
	select {
	case s <- struct{}{}:
		return &Lease{vmName: vmName, slot: s}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquiring lease for VM %s: %w", vmName, ctx.Err())
	}
}

// TryAcquire acquires the lease without blocking.
func (r *LeaseRegistry) TryAcquire(vmName string) (*Lease, error) {
	s := r.slot(vmName)
	select {
	case s <- struct{}{}:
		return &Lease{vmName: vmName, slot: s}, nil
	default:
		return nil, fmt.Errorf("%w: vmName=%s", ErrLeaseHeld, vmName)
	}
}

// Lease is an exclusive hold on a VM identity.
type Lease struct {
	vmName string
	slot   chan struct{}
	once   sync.Once
}

// VMName returns the VM identity this lease covers.
func (l *Lease) VMName() string {
	return l.vmName
}

// Release frees the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.slot })
}

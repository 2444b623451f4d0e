/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vmm manages libvirt-backed practice VMs: domain lookup, external
// disk snapshots, IP discovery and per-VM exclusivity leases.
package vmm

import (
	"errors"
	"fmt"

	"libvirt.org/go/libvirt"
)

var (
	ErrConnectLibvirt        = errors.New("failed to connect to libvirt")
	ErrLibvirtNotInitialized = errors.New("libvirt connection is not initialized")
	ErrVMNotFound            = errors.New("VM not found")
	ErrVMNotRunning          = errors.New("VM is not running")
	ErrGetDomainXML          = errors.New("failed to get domain XML")
	ErrSnapshotOperation     = errors.New("snapshot operation failed")
	ErrAgentCommand          = errors.New("guest agent command failed")
	ErrNetworkResolution     = errors.New("failed to resolve VM IP address")
)

const defaultConnectURI = "qemu:///system"

// Manager wraps a libvirt connection.
//
// A libvirt connection is not assumed safe for concurrent use: each
// execution context should own its own Manager, or serialize all calls
// through a single owner.
type Manager struct {
	conn *libvirt.Connect
}

// NewManager connects to the hypervisor. An empty URI connects to
// qemu:///system.
func NewManager(uri string) (*Manager, error) {
	if uri == "" {
		uri = defaultConnectURI
	}

	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: uri=%s: %v", ErrConnectLibvirt, uri, err)
	}

	return &Manager{conn: conn}, nil
}

// Close closes the libvirt connection.
func (m *Manager) Close() error {
	if m.conn == nil {
		return nil
	}
	_, err := m.conn.Close()
	return err
}

// LookupDomain resolves a domain handle by name.
// The caller owns the returned handle and must Free it.
func (m *Manager) LookupDomain(name string) (*libvirt.Domain, error) {
	if m.conn == nil {
		return nil, ErrLibvirtNotInitialized
	}

	dom, err := m.conn.LookupDomainByName(name)
	if err != nil {
		libvirtErr, ok := err.(libvirt.Error)
		if ok && libvirtErr.Code == libvirt.ERR_NO_DOMAIN {
			return nil, fmt.Errorf("%w: name=%s", ErrVMNotFound, name)
		}
		return nil, fmt.Errorf("failed to lookup domain %s: %v", name, err)
	}

	return dom, nil
}

// LookupVM checks that a domain with the given name exists.
func (m *Manager) LookupVM(name string) error {
	dom, err := m.LookupDomain(name)
	if err != nil {
		return err
	}
	dom.Free()
	return nil
}

// ResolveVMIP resolves the IP address of a domain by name.
func (m *Manager) ResolveVMIP(name string) (string, error) {
	dom, err := m.LookupDomain(name)
	if err != nil {
		return "", err
	}
	defer dom.Free()
	return m.ResolveIP(dom)
}

// CreateVMSnapshot creates an external disk snapshot of a domain by name.
func (m *Manager) CreateVMSnapshot(vmName, snapshotName string) (*SnapshotDescriptor, error) {
	dom, err := m.LookupDomain(vmName)
	if err != nil {
		return nil, err
	}
	defer dom.Free()
	return m.CreateSnapshot(dom, snapshotName)
}

// RevertVMSnapshot reverts a domain to a named snapshot.
func (m *Manager) RevertVMSnapshot(vmName, snapshotName string) error {
	dom, err := m.LookupDomain(vmName)
	if err != nil {
		return err
	}
	defer dom.Free()
	return m.RevertSnapshot(dom, snapshotName)
}

// DeleteVMSnapshot deletes a named snapshot of a domain.
// A missing snapshot is not an error.
func (m *Manager) DeleteVMSnapshot(vmName, snapshotName string) error {
	dom, err := m.LookupDomain(vmName)
	if err != nil {
		return err
	}
	defer dom.Free()
	return m.DeleteSnapshot(dom, snapshotName)
}

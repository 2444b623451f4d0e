package vmm

import (
	"fmt"
	"time"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// SnapshotDescriptor describes an external disk snapshot of a domain.
//
// External snapshots are file-backed: libvirt redirects writes into an
// overlay file, leaving the base image pristine. Reverting is cheap and
// crash-safe compared to internal snapshots.
type SnapshotDescriptor struct {
	Name      string
	VMName    string
	CreatedAt time.Time
	DiskPath  string
}

// CreateSnapshot creates an external disk-only snapshot of the domain.
//
// Snapshot operations are treated as non-idempotent: any hypervisor
// rejection (duplicate name, insufficient storage) is returned as-is and
// the caller decides how to proceed. There are no implicit retries.
func (m *Manager) CreateSnapshot(dom *libvirt.Domain, name string) (*SnapshotDescriptor, error) {
	vmName, err := dom.GetName()
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot=%s: %v", ErrSnapshotOperation, name, err)
	}

	xmlDesc, err := dom.GetXMLDesc(0)
	if err != nil {
		return nil, fmt.Errorf("%w: vmName=%s: %v", ErrGetDomainXML, vmName, err)
	}

	snapshotXML, overlayPath, err := buildSnapshotXML(xmlDesc, name)
	if err != nil {
		return nil, fmt.Errorf("%w: vmName=%s snapshot=%s: %v", ErrSnapshotOperation, vmName, name, err)
	}

	snap, err := dom.CreateSnapshotXML(
		snapshotXML,
		libvirt.DOMAIN_SNAPSHOT_CREATE_DISK_ONLY|libvirt.DOMAIN_SNAPSHOT_CREATE_ATOMIC,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: vmName=%s snapshot=%s: %v", ErrSnapshotOperation, vmName, name, err)
	}
	snap.Free()

	return &SnapshotDescriptor{
		Name:      name,
		VMName:    vmName,
		CreatedAt: time.Now(),
		DiskPath:  overlayPath,
	}, nil
}

// RevertSnapshot restores the domain's disk state to the named snapshot.
func (m *Manager) RevertSnapshot(dom *libvirt.Domain, name string) error {
	snap, err := dom.SnapshotLookupByName(name, 0)
	if err != nil {
		return fmt.Errorf("%w: snapshot=%s: %v", ErrSnapshotOperation, name, err)
	}
	defer snap.Free()

	if err := snap.RevertToSnapshot(libvirt.DOMAIN_SNAPSHOT_REVERT_RUNNING); err != nil {
		return fmt.Errorf("%w: snapshot=%s: %v", ErrSnapshotOperation, name, err)
	}

	return nil
}

// DeleteSnapshot removes the named snapshot. A missing snapshot is not an
// error so cleanup stays idempotent.
func (m *Manager) DeleteSnapshot(dom *libvirt.Domain, name string) error {
	snap, err := dom.SnapshotLookupByName(name, 0)
	if err != nil {
		libvirtErr, ok := err.(libvirt.Error)
		if ok && libvirtErr.Code == libvirt.ERR_NO_DOMAIN_SNAPSHOT {
			return nil
		}
		return fmt.Errorf("%w: snapshot=%s: %v", ErrSnapshotOperation, name, err)
	}
	defer snap.Free()

	if err := snap.Delete(0); err != nil {
		return fmt.Errorf("%w: snapshot=%s: %v", ErrSnapshotOperation, name, err)
	}

	return nil
}

// buildSnapshotXML builds the external snapshot definition for the domain's
// primary disk and returns it together with the overlay file path.
func buildSnapshotXML(domainXML, name string) (string, string, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return "", "", fmt.Errorf("parse domain XML: %v", err)
	}

	target, basePath, err := primaryDisk(&domain)
	if err != nil {
		return "", "", err
	}

	overlayPath := fmt.Sprintf("%s.%s", basePath, name)

	snapshot := &libvirtxml.DomainSnapshot{
		Name: name,
		// Disk-only snapshot: guest memory is not captured.
		Memory: &libvirtxml.DomainSnapshotMemory{
			Snapshot: "no",
		},
		Disks: &libvirtxml.DomainSnapshotDisks{
			Disks: []libvirtxml.DomainSnapshotDisk{
				{
					Name:     target,
					Snapshot: "external",
					Source: &libvirtxml.DomainSnapshotDiskSource{
						File: overlayPath,
					},
				},
			},
		},
	}

	xml, err := snapshot.Marshal()
	if err != nil {
		return "", "", fmt.Errorf("marshal snapshot XML: %v", err)
	}

	return xml, overlayPath, nil
}

// primaryDisk returns the target device and backing file of the domain's
// first file-backed disk.
func primaryDisk(domain *libvirtxml.Domain) (target, file string, err error) {
	if domain.Devices == nil {
		return "", "", fmt.Errorf("domain %s has no devices", domain.Name)
	}

	for _, disk := range domain.Devices.Disks {
		if disk.Device != "disk" {
			continue
		}
		if disk.Source == nil || disk.Source.File == nil {
			continue
		}
		if disk.Target == nil {
			continue
		}
		return disk.Target.Dev, disk.Source.File.File, nil
	}

	return "", "", fmt.Errorf("domain %s has no file-backed disk", domain.Name)
}

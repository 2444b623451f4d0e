package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libvirt.org/go/libvirtxml"
)

const testDomainXML = `
<domain type="kvm">
  <name>practice-vm</name>
  <devices>
    <disk type="file" device="cdrom">
      <source file="/var/lib/libvirt/images/seed.iso"/>
      <target dev="sda" bus="sata"/>
    </disk>
    <disk type="file" device="disk">
      <source file="/var/lib/libvirt/images/practice-vm.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
  </devices>
</domain>`

func TestBuildSnapshotXML(t *testing.T) {
	xml, overlayPath, err := buildSnapshotXML(testDomainXML, "baseline")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/libvirt/images/practice-vm.qcow2.baseline", overlayPath)

	var snapshot libvirtxml.DomainSnapshot
	require.NoError(t, snapshot.Unmarshal(xml))

	assert.Equal(t, "baseline", snapshot.Name)
	require.NotNil(t, snapshot.Memory)
	assert.Equal(t, "no", snapshot.Memory.Snapshot)

	require.NotNil(t, snapshot.Disks)
	require.Len(t, snapshot.Disks.Disks, 1)
	disk := snapshot.Disks.Disks[0]
	assert.Equal(t, "vda", disk.Name)
	assert.Equal(t, "external", disk.Snapshot)
	require.NotNil(t, disk.Source)
	assert.Equal(t, overlayPath, disk.Source.File)
}

func TestBuildSnapshotXML_NoFileBackedDisk(t *testing.T) {
	domainXML := `
<domain type="kvm">
  <name>diskless-vm</name>
  <devices/>
</domain>`

	_, _, err := buildSnapshotXML(domainXML, "baseline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diskless-vm")
}

func TestBuildSnapshotXML_InvalidXML(t *testing.T) {
	_, _, err := buildSnapshotXML("<domain", "baseline")
	require.Error(t, err)
}

func TestPrimaryDisk_SkipsCdrom(t *testing.T) {
	var domain libvirtxml.Domain
	require.NoError(t, domain.Unmarshal(testDomainXML))

	target, file, err := primaryDisk(&domain)
	require.NoError(t, err)
	assert.Equal(t, "vda", target)
	assert.Equal(t, "/var/lib/libvirt/images/practice-vm.qcow2", file)
}

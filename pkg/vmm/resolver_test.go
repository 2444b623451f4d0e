package vmm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libvirt.org/go/libvirt"
)

func TestSelectLease(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		leases []libvirt.NetworkDHCPLease
		mac    string
		want   string
	}{
		{
			name: "matching active lease",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:aa:bb:cc", IPaddr: "192.168.122.10", ExpiryTime: now.Add(time.Hour)},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "192.168.122.10",
		},
		{
			name: "expired lease is never selected",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:aa:bb:cc", IPaddr: "192.168.122.10", ExpiryTime: now.Add(-time.Minute)},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "",
		},
		{
			name: "expired lease skipped in favor of a later active one",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:aa:bb:cc", IPaddr: "192.168.122.10", ExpiryTime: now.Add(-time.Minute)},
				{Mac: "52:54:00:aa:bb:cc", IPaddr: "192.168.122.11", ExpiryTime: now.Add(time.Hour)},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "192.168.122.11",
		},
		{
			name: "mac match is case insensitive",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:AA:BB:CC", IPaddr: "192.168.122.10", ExpiryTime: now.Add(time.Hour)},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "192.168.122.10",
		},
		{
			name: "zero expiry is accepted",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:aa:bb:cc", IPaddr: "192.168.122.10"},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "192.168.122.10",
		},
		{
			name: "other macs are ignored",
			leases: []libvirt.NetworkDHCPLease{
				{Mac: "52:54:00:11:22:33", IPaddr: "192.168.122.99", ExpiryTime: now.Add(time.Hour)},
			},
			mac:  "52:54:00:aa:bb:cc",
			want: "",
		},
		{
			name:   "no leases",
			leases: nil,
			mac:    "52:54:00:aa:bb:cc",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectLease(tt.leases, tt.mac, now))
		})
	}
}

func TestParseAgentInterfaces(t *testing.T) {
	reply := `{
		"return": [
			{
				"name": "lo",
				"ip-addresses": [
					{"ip-address-type": "ipv4", "ip-address": "127.0.0.1", "prefix": 8}
				]
			},
			{
				"name": "eth0",
				"ip-addresses": [
					{"ip-address-type": "ipv6", "ip-address": "fe80::5054:ff:feaa:bbcc", "prefix": 64},
					{"ip-address-type": "ipv4", "ip-address": "192.168.122.42", "prefix": 24}
				]
			}
		]
	}`

	ifaces, err := parseAgentInterfaces([]byte(reply))
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "eth0", ifaces[1].Name)

	assert.Equal(t, "192.168.122.42", firstUsableIPv4(ifaces))
}

func TestParseAgentInterfaces_InvalidJSON(t *testing.T) {
	_, err := parseAgentInterfaces([]byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentCommand)
}

func TestFirstUsableIPv4(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []agentInterface
		want   string
	}{
		{
			name: "loopback interface skipped",
			ifaces: []agentInterface{
				{Name: "lo", IPAddresses: []agentIPAddress{{Type: "ipv4", Address: "127.0.0.1"}}},
			},
			want: "",
		},
		{
			name: "loopback address skipped even off lo",
			ifaces: []agentInterface{
				{Name: "eth0", IPAddresses: []agentIPAddress{{Type: "ipv4", Address: "127.0.0.2"}}},
			},
			want: "",
		},
		{
			name: "link local skipped",
			ifaces: []agentInterface{
				{Name: "eth0", IPAddresses: []agentIPAddress{{Type: "ipv4", Address: "169.254.1.2"}}},
			},
			want: "",
		},
		{
			name: "ipv6 skipped",
			ifaces: []agentInterface{
				{Name: "eth0", IPAddresses: []agentIPAddress{{Type: "ipv6", Address: "2001:db8::1"}}},
			},
			want: "",
		},
		{
			name: "first usable address wins",
			ifaces: []agentInterface{
				{Name: "eth0", IPAddresses: []agentIPAddress{
					{Type: "ipv4", Address: "169.254.1.2"},
					{Type: "ipv4", Address: "10.0.0.5"},
				}},
				{Name: "eth1", IPAddresses: []agentIPAddress{
					{Type: "ipv4", Address: "10.0.0.6"},
				}},
			},
			want: "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstUsableIPv4(tt.ifaces))
		})
	}
}

func TestInterfaceIdentity(t *testing.T) {
	domainXML := `
<domain type="kvm">
  <name>practice-vm</name>
  <devices>
    <interface type="network">
      <mac address="52:54:00:aa:bb:cc"/>
      <source network="default"/>
    </interface>
  </devices>
</domain>`

	mac, network, err := interfaceIdentity(domainXML)
	require.NoError(t, err)
	assert.Equal(t, "52:54:00:aa:bb:cc", mac)
	assert.Equal(t, "default", network)
}

func TestInterfaceIdentity_NoInterface(t *testing.T) {
	domainXML := `
<domain type="kvm">
  <name>practice-vm</name>
  <devices/>
</domain>`

	_, _, err := interfaceIdentity(domainXML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "practice-vm")
}

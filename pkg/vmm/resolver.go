package vmm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

const agentNetworkInterfacesCmd = `{"execute":"guest-network-get-interfaces"}`

// ResolveIP discovers the IPv4 address of a running domain.
//
// Two ordered strategies: the guest agent is queried first and is
// authoritative since it reflects actual guest-reported state; the
// hypervisor's DHCP lease table is the fallback. Agent errors (agent not
// running, unresponsive, unsupported) are expected and only demote to the
// fallback, they never fail the resolution on their own.
func (m *Manager) ResolveIP(dom *libvirt.Domain) (string, error) {
	vmName, err := dom.GetName()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetworkResolution, err)
	}

	active, err := dom.IsActive()
	if err != nil {
		return "", fmt.Errorf("%w: vmName=%s: %v", ErrNetworkResolution, vmName, err)
	}
	if !active {
		return "", fmt.Errorf("%w: vmName=%s: %v", ErrNetworkResolution, vmName, ErrVMNotRunning)
	}

	if ip, err := m.agentIP(dom); err != nil {
		slog.Debug("guest agent IP lookup failed, falling back to DHCP leases",
			"vmName", vmName, "err", err.Error())
	} else if ip != "" {
		return ip, nil
	}

	ip, err := m.dhcpIP(dom)
	if err != nil {
		return "", fmt.Errorf("%w: vmName=%s: %v", ErrNetworkResolution, vmName, err)
	}
	if ip == "" {
		return "", fmt.Errorf(
			"%w: vmName=%s: no usable address from guest agent or DHCP leases",
			ErrNetworkResolution, vmName,
		)
	}

	return ip, nil
}

// agentIP queries the in-guest agent for its network interfaces.
func (m *Manager) agentIP(dom *libvirt.Domain) (string, error) {
	reply, err := dom.QemuAgentCommand(
		agentNetworkInterfacesCmd,
		libvirt.DOMAIN_QEMU_AGENT_COMMAND_DEFAULT,
		0,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAgentCommand, err)
	}

	ifaces, err := parseAgentInterfaces([]byte(reply))
	if err != nil {
		return "", err
	}

	return firstUsableIPv4(ifaces), nil
}

// dhcpIP reads the domain's interface definition for its MAC address and
// attached virtual network, then matches against that network's active
// lease table.
func (m *Manager) dhcpIP(dom *libvirt.Domain) (string, error) {
	xmlDesc, err := dom.GetXMLDesc(0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGetDomainXML, err)
	}

	mac, networkName, err := interfaceIdentity(xmlDesc)
	if err != nil {
		return "", err
	}

	network, err := m.conn.LookupNetworkByName(networkName)
	if err != nil {
		return "", fmt.Errorf("failed to lookup network %s: %v", networkName, err)
	}
	defer network.Free()

	leases, err := network.GetDHCPLeases()
	if err != nil {
		return "", fmt.Errorf("failed to query DHCP leases of network %s: %v", networkName, err)
	}

	return selectLease(leases, mac, time.Now()), nil
}

// interfaceIdentity extracts the MAC address and attached network name from
// the domain's first network-backed interface.
func interfaceIdentity(domainXML string) (mac, network string, err error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return "", "", fmt.Errorf("parse domain XML: %v", err)
	}

	if domain.Devices == nil {
		return "", "", fmt.Errorf("domain %s has no devices", domain.Name)
	}

	for _, iface := range domain.Devices.Interfaces {
		if iface.Source == nil || iface.Source.Network == nil {
			continue
		}
		if iface.MAC == nil || iface.MAC.Address == "" {
			continue
		}
		return iface.MAC.Address, iface.Source.Network.Network, nil
	}

	return "", "", fmt.Errorf("domain %s has no network interface with a MAC address", domain.Name)
}

// selectLease picks the address of the lease matching mac. A lease whose
// expiry timestamp is in the past is never selected, even on MAC match; a
// zero expiry means the hypervisor did not record one and is accepted.
func selectLease(leases []libvirt.NetworkDHCPLease, mac string, now time.Time) string {
	for _, lease := range leases {
		if !strings.EqualFold(lease.Mac, mac) {
			continue
		}
		if !lease.ExpiryTime.IsZero() && !lease.ExpiryTime.After(now) {
			continue
		}
		if lease.IPaddr == "" {
			continue
		}
		return lease.IPaddr
	}
	return ""
}

type agentIPAddress struct {
	Type    string `json:"ip-address-type"`
	Address string `json:"ip-address"`
}

type agentInterface struct {
	Name        string           `json:"name"`
	IPAddresses []agentIPAddress `json:"ip-addresses"`
}

type agentInterfacesReply struct {
	Return []agentInterface `json:"return"`
}

func parseAgentInterfaces(data []byte) ([]agentInterface, error) {
	var reply agentInterfacesReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: unexpected reply: %v", ErrAgentCommand, err)
	}
	return reply.Return, nil
}

// firstUsableIPv4 returns the first IPv4 address that is not on the loopback
// interface and is neither loopback nor link-local.
func firstUsableIPv4(ifaces []agentInterface) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.IPAddresses {
			if addr.Type != "ipv4" {
				continue
			}
			ip := net.ParseIP(addr.Address)
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			return addr.Address
		}
	}
	return ""
}
